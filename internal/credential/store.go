package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lucidarc/observatory/internal/platform"
)

const credentialColumns = `id, key_hash, tier, label, revoked, created_at, expires_at, last_used_at`

// Store provides raw-SQL persistence for issued credentials.
type Store struct {
	dbtx platform.DBTX
}

// NewStore creates a credential Store backed by the given database connection.
func NewStore(dbtx platform.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.KeyHash, &rec.Tier, &rec.Label, &rec.Revoked, &rec.CreatedAt, &rec.ExpiresAt, &rec.LastUsedAt)
	return rec, err
}

// ErrNotFound is returned when a credential lookup matches no row.
var ErrNotFound = fmt.Errorf("credential not found")

// Issue generates and stores a new credential of the given tier, returning
// the raw key (shown once) alongside the stored record. expiresAt is
// optional (spec.md §3 Credential.expires_at?); nil means the credential
// never expires on its own and can only be revoked.
func (s *Store) Issue(ctx context.Context, tier Tier, label string, expiresAt *time.Time) (raw string, rec Record, err error) {
	raw, hash, err := generateKey(tier)
	if err != nil {
		return "", Record{}, err
	}
	query := `INSERT INTO credentials (key_hash, tier, label, expires_at) VALUES ($1, $2, $3, $4)
	RETURNING ` + credentialColumns
	rec, err = scanRecord(s.dbtx.QueryRow(ctx, query, hash, tier, label, expiresAt))
	if err != nil {
		return "", Record{}, fmt.Errorf("issuing credential: %w", err)
	}
	return raw, rec, nil
}

// GetByHash looks up a credential by the hash of its raw key, revoked or
// not. The caller (Resolver.Resolve) is responsible for checking expiry and
// the revoked flag, in that order (spec.md §4.1) — this method never
// filters rows, so a revoked or expired credential still round-trips back
// to the caller rather than being indistinguishable from "never issued".
func (s *Store) GetByHash(ctx context.Context, hash string) (Record, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE key_hash = $1`
	rec, err := scanRecord(s.dbtx.QueryRow(ctx, query, hash))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("looking up credential: %w", err)
	}
	return rec, nil
}

// List returns all issued credentials, most recent first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials ORDER BY created_at DESC`
	rows, err := s.dbtx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	defer rows.Close()

	var items []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.KeyHash, &rec.Tier, &rec.Label, &rec.Revoked, &rec.CreatedAt, &rec.ExpiresAt, &rec.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scanning credential row: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credential rows: %w", err)
	}
	return items, nil
}

// Revoke marks a credential permanently unusable and returns its key hash
// so the caller can evict it from the resolver's cache immediately.
func (s *Store) Revoke(ctx context.Context, id uuid.UUID) (keyHash string, err error) {
	query := `UPDATE credentials SET revoked = true WHERE id = $1 RETURNING key_hash`
	err = s.dbtx.QueryRow(ctx, query, id).Scan(&keyHash)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("revoking credential: %w", err)
	}
	return keyHash, nil
}

// Relabel updates a credential's display label.
func (s *Store) Relabel(ctx context.Context, id uuid.UUID, label string) error {
	tag, err := s.dbtx.Exec(ctx, `UPDATE credentials SET label = $1 WHERE id = $2`, label, id)
	if err != nil {
		return fmt.Errorf("relabeling credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastUsed records that a credential was just used to authenticate a
// request. Callers invoke this asynchronously so the hot path never waits
// on the write.
func (s *Store) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE credentials SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touching credential last_used_at: %w", err)
	}
	return nil
}
