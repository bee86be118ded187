package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger_MarkSeen(t *testing.T) {
	l := openTestLedger(t)

	seen, err := l.MarkSeen("om_1", "oc_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen {
		t.Error("first delivery must not be seen")
	}

	seen, err = l.MarkSeen("om_1", "oc_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !seen {
		t.Error("redelivery must be reported as seen")
	}

	seen, _ = l.MarkSeen("om_2", "oc_1")
	if seen {
		t.Error("a different message ID must not be seen")
	}
}

func TestLedger_RecordOutcome(t *testing.T) {
	l := openTestLedger(t)

	l.MarkSeen("om_1", "oc_1")
	if err := l.RecordOutcome("om_1", OutcomeScheduled); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcome, err := l.Outcome("om_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeScheduled {
		t.Errorf("expected %q, got %q", OutcomeScheduled, outcome)
	}

	outcome, err = l.Outcome("om_unknown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != "" {
		t.Errorf("unknown message should yield empty outcome, got %q", outcome)
	}
}

func TestLedger_Prune(t *testing.T) {
	l := openTestLedger(t)

	l.MarkSeen("om_old", "oc_1")
	// Backdate the row beyond the retention window.
	if _, err := l.db.Exec(`UPDATE events SET created_at = ? WHERE message_id = 'om_old'`,
		time.Now().Add(-48*time.Hour).Unix()); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	l.MarkSeen("om_new", "oc_1")

	removed, err := l.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 pruned row, got %d", removed)
	}

	seen, _ := l.MarkSeen("om_old", "oc_1")
	if seen {
		t.Error("pruned message should be insertable again")
	}
	seen, _ = l.MarkSeen("om_new", "oc_1")
	if !seen {
		t.Error("recent message must survive pruning")
	}
}
