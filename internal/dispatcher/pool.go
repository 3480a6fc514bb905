package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lucidarc/observatory/internal/credential"
	"github.com/lucidarc/observatory/internal/job"
)

// OutcomeRecorder is notified once per dispatched job, after its backend
// call and any retries finish, so an operator alert can fire on sustained
// backend_unavailable streaks
// (spec.md §11 opsalert). Satisfied by *opsalert.Notifier; nil is a
// valid Pool.alerts value and simply disables the hook.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, ok bool)
}

// RetryConfig controls the backend call's retry policy (spec.md §4.4 step
// 6: base 1s, factor 2, jitter ±25%, up to MaxRetries, default 2).
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// TTLConfig carries the TTLs the store needs when it recomputes expires_at
// on a terminal transition (spec.md §3).
type TTLConfig struct {
	ResultTTL    time.Duration
	CancelledTTL time.Duration
}

// Pool is the bounded worker pool that drains the dispatch queue and
// mediates between claimed jobs and the LLM backend (spec.md §4.4).
type Pool struct {
	store           *job.Store
	backend         Backend
	queue           *queue
	workerCount     int
	retry           RetryConfig
	ttl             TTLConfig
	callbackSecrets map[credential.Tier]string
	httpClient      *http.Client
	logger          *slog.Logger
	alerts          OutcomeRecorder

	retriesMetric  prometheus.Counter
	durationMetric prometheus.Histogram
	finishedMetric *prometheus.CounterVec
}

// NewPool creates a dispatcher Pool. callbackSecrets holds the per-tier HMAC
// key used to sign terminal-status notifications (spec.md §4.4 step 9).
func NewPool(
	store *job.Store,
	backend Backend,
	workerCount, queueDepth int,
	retry RetryConfig,
	ttl TTLConfig,
	callbackSecrets map[credential.Tier]string,
	logger *slog.Logger,
	alerts OutcomeRecorder,
	retriesMetric prometheus.Counter,
	durationMetric prometheus.Histogram,
	finishedMetric *prometheus.CounterVec,
) *Pool {
	return &Pool{
		store:           store,
		backend:         backend,
		queue:           newQueue(queueDepth),
		workerCount:     workerCount,
		retry:           retry,
		ttl:             ttl,
		callbackSecrets: callbackSecrets,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		logger:          logger,
		alerts:          alerts,
		retriesMetric:   retriesMetric,
		durationMetric:  durationMetric,
		finishedMetric:  finishedMetric,
	}
}

// Enqueue hands a freshly created job to the dispatch queue. It returns
// false when the queue is full, which the caller surfaces as a busy (503)
// response without ever starting the job (spec.md §6).
func (p *Pool) Enqueue(id uuid.UUID, priority job.Priority) bool {
	return p.queue.tryEnqueue(id, priority == job.PriorityHigh)
}

// Run starts the worker pool. It blocks until ctx is cancelled, then lets
// in-flight workers finish their current job before returning.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("dispatcher pool started", "workers", p.workerCount)

	done := ctx.Done()
	results := make(chan struct{})
	for i := 0; i < p.workerCount; i++ {
		go func() {
			p.workerLoop(ctx, done)
			results <- struct{}{}
		}()
	}
	for i := 0; i < p.workerCount; i++ {
		<-results
	}
	p.logger.Info("dispatcher pool stopped")
	return nil
}

// RunSweeper periodically re-enqueues pending jobs from the store. It
// complements Enqueue's direct handoff from the submitting request: a
// standalone worker deployment, or any process recovering after a restart
// that emptied its in-process queue, still discovers work this way
// (spec.md §9 "pluggable stores"). It blocks until ctx is cancelled.
func (p *Pool) RunSweeper(ctx context.Context, interval time.Duration) error {
	p.logger.Info("dispatcher sweeper started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("dispatcher sweeper stopped")
			return nil
		case <-ticker.C:
			if err := p.sweepOnce(ctx); err != nil {
				p.logger.Error("dispatcher sweep", "error", err)
			}
		}
	}
}

func (p *Pool) sweepOnce(ctx context.Context) error {
	pending, err := p.store.ListPendingForSweep(ctx, p.queue.capacity())
	if err != nil {
		return err
	}
	for _, ref := range pending {
		p.queue.tryEnqueue(ref.ID, ref.Priority == job.PriorityHigh)
	}
	return nil
}

func (p *Pool) workerLoop(ctx context.Context, done <-chan struct{}) {
	for {
		id, ok := p.queue.next(done)
		if !ok {
			return
		}
		p.process(ctx, id)
	}
}

// process implements the per-job algorithm of spec.md §4.4 steps 1-9.
func (p *Pool) process(ctx context.Context, id uuid.UUID) {
	j, err := p.store.Claim(ctx, id)
	if err != nil {
		if err == job.ErrNotFound {
			return // another worker won, or the job was cancelled/timed out already
		}
		p.logger.Error("claiming job", "job_id", id, "error", err)
		return
	}

	if j.CancelRequested {
		p.cancel(ctx, j)
		return
	}

	start := time.Now()
	result, jobErr := p.analyze(ctx, j)
	elapsed := time.Since(start)
	p.durationMetric.Observe(elapsed.Seconds())

	if p.alerts != nil {
		p.alerts.RecordOutcome(ctx, jobErr == nil || jobErr.Kind != "backend_unavailable")
	}

	if j2, err := p.store.Get(ctx, j.ID); err == nil && j2.CancelRequested {
		p.cancel(ctx, j)
		return
	}

	if jobErr != nil {
		if err := p.store.Fail(ctx, j.ID, *jobErr, p.ttl.ResultTTL); err != nil && err != job.ErrNotFound {
			p.logger.Error("failing job", "job_id", id, "error", err)
		}
		p.finishedMetric.WithLabelValues(string(job.StatusFailed), jobErr.Kind).Inc()
		p.notifyCallback(ctx, j, job.StatusFailed, nil, jobErr)
		return
	}

	result.ProcessingSeconds = elapsed.Seconds()
	if err := p.store.Complete(ctx, j.ID, result, p.ttl.ResultTTL); err != nil && err != job.ErrNotFound {
		p.logger.Error("completing job", "job_id", id, "error", err)
	}
	p.finishedMetric.WithLabelValues(string(job.StatusCompleted), "").Inc()
	p.notifyCallback(ctx, j, job.StatusCompleted, &result, nil)
}

func (p *Pool) cancel(ctx context.Context, j job.Job) {
	if err := p.store.MarkCancelled(ctx, j.ID, p.ttl.CancelledTTL); err != nil && err != job.ErrNotFound {
		p.logger.Error("marking job cancelled", "job_id", j.ID, "error", err)
	}
}

// analyze renders the prompt, invokes the backend with retry, and parses
// the resulting opaque text into a job.Result. A non-nil *job.JobError means
// the job is terminal-failed; a nil error with a zero Result never happens.
func (p *Pool) analyze(ctx context.Context, j job.Job) (job.Result, *job.JobError) {
	req := GenerateRequest{
		Prompt: renderPrompt(j.ConversationText, j.Options.PatternTypes),
	}

	attempts := 0
	operation := func() (GenerateResponse, error) {
		// Before each retry, stop if cancellation has been requested; process
		// then observes the latch and marks the job cancelled.
		if attempts > 0 {
			if cur, err := p.store.Get(ctx, j.ID); err == nil && cur.CancelRequested {
				return GenerateResponse{}, backoff.Permanent(errors.New("cancellation requested"))
			}
		}
		attempts++
		resp, err := p.backend.Generate(ctx, req)
		if err != nil {
			var transportErr *TransportError
			if errors.As(err, &transportErr) {
				p.retriesMetric.Inc()
				return GenerateResponse{}, err // retryable
			}
			if errors.Is(err, context.DeadlineExceeded) {
				p.retriesMetric.Inc()
				return GenerateResponse{}, err // retryable, treated as timeout below
			}
			return GenerateResponse{}, backoff.Permanent(err)
		}
		return resp, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retry.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.25

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.retry.MaxRetries+1)),
	)
	if err != nil {
		return job.Result{}, classifyBackendError(err)
	}

	// A successful backend round-trip never retries again: a parse failure
	// here is terminal (spec.md §4.4 step 7).
	raw, err := parseBackendText(resp.Text)
	if err != nil {
		return job.Result{}, classifyBackendError(err)
	}

	modelIdentifier := resp.Model + "@" + promptVersion
	return clampResult(raw, modelIdentifier, 0), nil
}

func classifyBackendError(err error) *job.JobError {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return &job.JobError{Kind: "parse_error", Message: "backend response could not be parsed"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &job.JobError{Kind: "timeout", Message: "backend did not respond before the deadline"}
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return &job.JobError{Kind: "backend_unavailable", Message: "backend is unavailable"}
	}
	return &job.JobError{Kind: "internal", Message: "analysis failed"}
}

// callbackPayload is the body POSTed to a job's callback_url on terminal
// status (spec.md §4.4 step 9).
type callbackPayload struct {
	ID     uuid.UUID     `json:"id"`
	Status job.Status    `json:"status"`
	Result *job.Result   `json:"result,omitempty"`
	Error  *job.JobError `json:"error,omitempty"`
}

// notifyCallback delivers a best-effort terminal-status notification,
// signed with the per-tier HMAC secret. Delivery failures never reopen the
// job (spec.md §4.4 step 9).
func (p *Pool) notifyCallback(ctx context.Context, j job.Job, status job.Status, result *job.Result, jobErr *job.JobError) {
	if j.Options.CallbackURL == "" {
		return
	}

	body, err := json.Marshal(callbackPayload{ID: j.ID, Status: status, Result: result, Error: jobErr})
	if err != nil {
		p.logger.Error("encoding callback payload", "job_id", j.ID, "error", err)
		return
	}

	secret := p.callbackSecrets[credential.Tier(j.OwnerTier)]
	signature := signCallback(secret, body)

	const maxAttempts = 3
	delay := 2 * time.Second
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if p.deliverCallback(ctx, j.Options.CallbackURL, body, signature) {
			return
		}
		if attempt < maxAttempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	p.logger.Warn("callback delivery exhausted retries", "job_id", j.ID, "url", j.Options.CallbackURL)
}

func (p *Pool) deliverCallback(ctx context.Context, url string, body []byte, signature string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Observatory-Signature", signature)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func signCallback(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
