// Package lifecycle implements the request-path orchestrator that ties
// together credential resolution, rate limiting, job persistence, and
// dispatch: validate, persist, enqueue, and service status/cancel/list
// queries under the authorization matrix (spec.md §4.5).
package lifecycle

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucidarc/observatory/internal/apierr"
	"github.com/lucidarc/observatory/internal/credential"
	"github.com/lucidarc/observatory/internal/dispatcher"
	"github.com/lucidarc/observatory/internal/httpserver"
	"github.com/lucidarc/observatory/internal/job"
	"github.com/lucidarc/observatory/internal/telemetry"
)

// TTLs carries the durations the controller needs to stamp on job creation.
type TTLs struct {
	Pending   time.Duration
	Result    time.Duration
	Cancelled time.Duration
}

// CallbackAllowlist maps a tier to the URL schemes and hosts its
// callback_url may target (spec.md §4.5: partner gets a wider set).
type CallbackAllowlist struct {
	Schemes []string
	Hosts   []string // empty means any host is allowed for that tier
}

// Config bundles the controller's tier-dependent policy knobs.
type Config struct {
	MaxInputChars int
	TTLs          TTLs
	Allowlists    map[credential.Tier]CallbackAllowlist
}

// Controller is the Lifecycle Controller (spec.md §4.5).
type Controller struct {
	jobs  *job.Store
	pool  *dispatcher.Pool
	cfg   Config
}

// NewController creates a Controller.
func NewController(jobs *job.Store, pool *dispatcher.Pool, cfg Config) *Controller {
	return &Controller{jobs: jobs, pool: pool, cfg: cfg}
}

// SubmitPayload is the validated submission input (spec.md §6 POST /v1/analyze).
type SubmitPayload struct {
	ConversationText string
	PatternTypes     []string
	CallbackURL      string
	Priority         string
}

// SubmitResult is what the HTTP boundary renders for a 202 response.
type SubmitResult struct {
	ID        uuid.UUID
	Status    job.Status
	ExpiresAt time.Time
}

// Submit validates payload, persists a pending job owned by cred, and
// enqueues it for dispatch (spec.md §4.5 submit).
func (c *Controller) Submit(ctx context.Context, cred credential.Credential, payload SubmitPayload) (SubmitResult, error) {
	opts, err := c.validateSubmission(cred, payload)
	if err != nil {
		return SubmitResult{}, err
	}

	now := time.Now()
	j, err := c.jobs.Create(ctx, cred.Fingerprint, string(cred.Tier), payload.ConversationText, opts, now.Add(c.cfg.TTLs.Pending))
	if err != nil {
		return SubmitResult{}, apierr.Internal(err)
	}

	if !c.pool.Enqueue(j.ID, opts.Priority) {
		// The row is already persisted as pending; cancel it so the sweeper
		// never dispatches a submission the caller was told was rejected.
		_ = c.jobs.MarkCancelled(ctx, j.ID, c.cfg.TTLs.Cancelled)
		return SubmitResult{}, apierr.New(apierr.KindBusy, "the analyzer is at capacity, try again shortly")
	}

	telemetry.JobsSubmittedTotal.WithLabelValues(string(cred.Tier), string(opts.Priority)).Inc()

	return SubmitResult{ID: j.ID, Status: j.Status, ExpiresAt: j.ExpiresAt}, nil
}

// validateSubmission enforces spec.md §4.5/§3's input rules: non-empty,
// bounded length, recognized option keys only, priority restricted to
// partner, and a tier-scoped callback_url scheme/host allow-list.
func (c *Controller) validateSubmission(cred credential.Credential, payload SubmitPayload) (job.Options, error) {
	details := map[string]string{}

	text := strings.TrimSpace(payload.ConversationText)
	if text == "" {
		details["conversation_text"] = "must not be empty"
	} else if len(text) > c.cfg.MaxInputChars {
		details["conversation_text"] = "exceeds the maximum allowed length"
	}

	patternTypes := make([]job.PatternType, 0, len(payload.PatternTypes))
	for _, pt := range payload.PatternTypes {
		switch job.PatternType(pt) {
		case job.PatternDialectic, job.PatternThemes, job.PatternSentiment:
			patternTypes = append(patternTypes, job.PatternType(pt))
		default:
			details["options.pattern_types"] = "unrecognized pattern type: " + pt
		}
	}
	if len(patternTypes) == 0 {
		patternTypes = []job.PatternType{job.PatternDialectic, job.PatternThemes, job.PatternSentiment}
	}

	priority := job.PriorityNormal
	switch payload.Priority {
	case "", string(job.PriorityNormal):
		priority = job.PriorityNormal
	case string(job.PriorityHigh):
		// priority "high" is restricted to the partner tier (spec.md §12 open
		// question #1); lower tiers are coerced to normal rather than rejected.
		if cred.Tier == credential.TierPartner {
			priority = job.PriorityHigh
		} else {
			priority = job.PriorityNormal
		}
	default:
		details["options.priority"] = "must be one of: normal, high"
	}

	callbackURL := strings.TrimSpace(payload.CallbackURL)
	if callbackURL != "" {
		if err := c.validateCallbackURL(cred.Tier, callbackURL); err != nil {
			details["options.callback_url"] = err.Error()
		}
	}

	if len(details) > 0 {
		return job.Options{}, apierr.New(apierr.KindInvalidInput, "submission failed validation").WithDetails(details)
	}

	return job.Options{
		PatternTypes: patternTypes,
		CallbackURL:  callbackURL,
		Priority:     priority,
	}, nil
}

func (c *Controller) validateCallbackURL(tier credential.Tier, raw string) error {
	allow, ok := c.cfg.Allowlists[tier]
	if !ok {
		return errInvalidCallback
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errInvalidCallback
	}
	schemeOK := false
	for _, s := range allow.Schemes {
		if strings.EqualFold(u.Scheme, s) {
			schemeOK = true
			break
		}
	}
	if !schemeOK {
		return errInvalidCallback
	}
	if len(allow.Hosts) == 0 {
		return nil
	}
	for _, h := range allow.Hosts {
		if strings.EqualFold(u.Hostname(), h) {
			return nil
		}
	}
	return errInvalidCallback
}

var errInvalidCallback = callbackError{}

type callbackError struct{}

func (callbackError) Error() string { return "callback_url scheme or host is not allowed for this tier" }

// JobView is what get()/list() render, already field-projected by tier
// (spec.md §4.5 get: public tier sees status/created_at/expires_at only).
type JobView struct {
	ID         uuid.UUID
	Status     job.Status
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Result     *job.Result
	Error      *job.JobError
}

// Get fetches a job scoped to cred's ownership and projects fields by tier
// (spec.md §4.5 get).
func (c *Controller) Get(ctx context.Context, cred credential.Credential, id uuid.UUID) (JobView, error) {
	j, err := c.jobs.Get(ctx, id)
	if err != nil {
		if err == job.ErrNotFound {
			return JobView{}, apierr.New(apierr.KindNotFound, "job not found")
		}
		return JobView{}, apierr.Internal(err)
	}
	if j.OwnerFingerprint != cred.Fingerprint {
		// Not-owned is indistinguishable from not-found (spec.md §4.5).
		return JobView{}, apierr.New(apierr.KindNotFound, "job not found")
	}

	view := JobView{ID: j.ID, Status: j.Status, CreatedAt: j.CreatedAt, ExpiresAt: j.ExpiresAt}
	if cred.Tier != credential.TierPublic {
		view.Result = j.Result
		view.Error = j.Error
	}
	return view, nil
}

// Cancel latches cancel_requested on a job cred owns (spec.md §4.5 cancel).
func (c *Controller) Cancel(ctx context.Context, cred credential.Credential, id uuid.UUID) (job.Status, error) {
	j, err := c.jobs.Get(ctx, id)
	if err != nil {
		if err == job.ErrNotFound {
			return "", apierr.New(apierr.KindNotFound, "job not found")
		}
		return "", apierr.Internal(err)
	}
	if j.OwnerFingerprint != cred.Fingerprint {
		return "", apierr.New(apierr.KindNotFound, "job not found")
	}
	if j.Status.Terminal() {
		return j.Status, apierr.New(apierr.KindNotFound, "job has already finished")
	}

	if err := c.jobs.RequestCancel(ctx, id); err != nil {
		if err == job.ErrNotFound {
			return "", apierr.New(apierr.KindNotFound, "job has already finished")
		}
		return "", apierr.Internal(err)
	}

	updated, err := c.jobs.Get(ctx, id)
	if err != nil {
		return "", apierr.Internal(err)
	}
	return updated.Status, nil
}

// ListPayload is the validated input for list() (spec.md §4.5 list,
// §12 supplemented GET /v1/analyze).
type ListPayload struct {
	Status *job.Status
	Cursor httpserver.CursorParams
}

// List returns cred's jobs, authenticated tiers only (spec.md §4.5:
// "Public (anonymous): ... Cannot list").
func (c *Controller) List(ctx context.Context, cred credential.Credential, payload ListPayload) (httpserver.CursorPage[JobView], error) {
	if cred.Tier == credential.TierPublic {
		return httpserver.CursorPage[JobView]{}, apierr.New(apierr.KindUnauthorized, "listing requires an authenticated credential")
	}

	params := job.ListParams{OwnerFingerprint: cred.Fingerprint, Status: payload.Status, Limit: payload.Cursor.Limit + 1}
	if payload.Cursor.After != nil {
		t := payload.Cursor.After.CreatedAt
		id := payload.Cursor.After.ID
		params.Before = &t
		params.BeforeID = &id
	}

	jobs, err := c.jobs.List(ctx, params)
	if err != nil {
		return httpserver.CursorPage[JobView]{}, apierr.Internal(err)
	}

	views := make([]JobView, len(jobs))
	for i, j := range jobs {
		views[i] = JobView{ID: j.ID, Status: j.Status, CreatedAt: j.CreatedAt, ExpiresAt: j.ExpiresAt, Result: j.Result, Error: j.Error}
	}

	return httpserver.NewCursorPage(views, payload.Cursor.Limit, func(v JobView) httpserver.Cursor {
		return httpserver.Cursor{CreatedAt: v.CreatedAt, ID: v.ID}
	}), nil
}
