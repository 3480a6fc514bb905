package opsalert

import (
	"context"
	"log/slog"
	"testing"
)

func TestRecordOutcomeDisabledNotifierDoesNotPanic(t *testing.T) {
	n := NewNotifier("", "", 3, slog.Default())
	if n.IsEnabled() {
		t.Fatal("expected a notifier with no bot token to be disabled")
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		n.RecordOutcome(ctx, false)
	}
	n.RecordOutcome(ctx, true)
}

func TestRecordOutcomeTracksStreakAndClearsOnSuccess(t *testing.T) {
	n := NewNotifier("", "", 3, slog.Default())
	ctx := context.Background()

	n.RecordOutcome(ctx, false)
	n.RecordOutcome(ctx, false)
	if n.streak != 2 {
		t.Fatalf("streak = %d, want 2", n.streak)
	}

	n.RecordOutcome(ctx, true)
	if n.streak != 0 {
		t.Fatalf("streak after success = %d, want 0", n.streak)
	}
}

func TestRecordOutcomeNotifiesOnceAtThreshold(t *testing.T) {
	n := NewNotifier("", "", 2, slog.Default())
	ctx := context.Background()

	n.RecordOutcome(ctx, false)
	if n.notifying {
		t.Fatal("should not be notifying before the threshold is reached")
	}
	n.RecordOutcome(ctx, false)
	if !n.notifying {
		t.Fatal("expected notifying to latch once the streak reaches the threshold")
	}
	n.RecordOutcome(ctx, false)
	if !n.notifying {
		t.Fatal("expected notifying to remain latched past the threshold")
	}
}
