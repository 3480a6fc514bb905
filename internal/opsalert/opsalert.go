// Package opsalert notifies an operator when the analysis backend is
// sustained-degraded. §4.4 keeps repeated backend_unavailable outcomes
// job-resident rather than surfacing them synchronously; this package is
// the out-of-band signal an operator needs instead of polling jobs
// (spec.md §11), grounded on the teacher's pkg/slack notifier.
package opsalert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	goslack "github.com/slack-go/slack"

	"github.com/lucidarc/observatory/internal/telemetry"
)

// Notifier posts a single alert to Slack when a sliding window of
// dispatcher outcomes crosses a consecutive-failure threshold, and
// suppresses re-notification until the condition clears.
type Notifier struct {
	client    *goslack.Client
	channel   string
	threshold int
	logger    *slog.Logger

	mu        sync.Mutex
	streak    int
	notifying bool
}

// NewNotifier creates a Notifier. If botToken is empty, it runs in
// logging-only mode (IsEnabled reports false and degraded/recovery notices
// go to the logger instead of Slack) —
// the same "disabled means silent" convention as the teacher's notifier.
func NewNotifier(botToken, channel string, threshold int, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, threshold: threshold, logger: logger}
}

// IsEnabled reports whether this notifier has a real Slack client configured.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// RecordOutcome is called by the dispatcher once per dispatched job, after
// its backend call and any retries. ok=false means the job ended in
// backend_unavailable. Crossing
// the threshold fires exactly one alert; a later ok=true clears it so the
// next sustained streak can alert again.
func (n *Notifier) RecordOutcome(ctx context.Context, ok bool) {
	n.mu.Lock()
	if ok {
		wasNotifying := n.notifying
		n.streak = 0
		n.notifying = false
		n.mu.Unlock()
		if wasNotifying {
			n.postRecovery(ctx)
		}
		return
	}

	n.streak++
	shouldNotify := n.streak >= n.threshold && !n.notifying
	if shouldNotify {
		n.notifying = true
	}
	streak := n.streak
	n.mu.Unlock()

	if shouldNotify {
		n.postDegraded(ctx, streak)
	}
}

func (n *Notifier) postDegraded(ctx context.Context, streak int) {
	if !n.IsEnabled() {
		n.logger.Warn("backend degraded (slack notifier disabled)", "consecutive_failures", streak)
		return
	}

	text := fmt.Sprintf(":rotating_light: Observatory backend degraded: %d consecutive backend_unavailable outcomes", streak)
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false)); err != nil {
		n.logger.Error("posting backend-degraded alert to slack", "error", err)
		return
	}
	telemetry.OpsNotificationsTotal.WithLabelValues("degraded").Inc()
}

func (n *Notifier) postRecovery(ctx context.Context) {
	if !n.IsEnabled() {
		n.logger.Info("backend recovered (slack notifier disabled)")
		return
	}

	text := ":white_check_mark: Observatory backend recovered"
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false)); err != nil {
		n.logger.Error("posting backend-recovery notice to slack", "error", err)
		return
	}
	telemetry.OpsNotificationsTotal.WithLabelValues("recovery").Inc()
}
