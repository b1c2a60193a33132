package cooldown

import (
	"testing"
	"time"
)

func TestLedger_FirstResponseAllowed(t *testing.T) {
	l := NewLedger(Config{})
	if !l.CanRespond("a1", "c1", time.Now(), false) {
		t.Error("expected untracked pair to be allowed")
	}
}

func TestLedger_ImmediateSecondResponseBlocked(t *testing.T) {
	l := NewLedger(Config{HumanCooldown: 5 * time.Second, BotCooldown: time.Minute})
	now := time.Now()

	l.Record("a1", "c1", now, false)

	if l.CanRespond("a1", "c1", now, false) {
		t.Error("expected same-instant re-response to be blocked")
	}
	if l.CanRespond("a1", "c1", now, true) {
		t.Error("expected bot-triggered re-response to be blocked")
	}
}

func TestLedger_AllowedAfterWindowElapses(t *testing.T) {
	l := NewLedger(Config{HumanCooldown: 5 * time.Second, BotCooldown: time.Minute})
	now := time.Now()

	l.Record("a1", "c1", now, false)

	if !l.CanRespond("a1", "c1", now.Add(5*time.Second), false) {
		t.Error("expected human-triggered response allowed after 5s")
	}
	if l.CanRespond("a1", "c1", now.Add(5*time.Second), true) {
		t.Error("expected bot-triggered response still blocked at 5s")
	}
	if !l.CanRespond("a1", "c1", now.Add(time.Minute), true) {
		t.Error("expected bot-triggered response allowed after a minute")
	}
}

func TestLedger_PairsAreIndependent(t *testing.T) {
	l := NewLedger(Config{HumanCooldown: time.Minute, BotCooldown: time.Minute})
	now := time.Now()

	l.Record("a1", "c1", now, false)

	if !l.CanRespond("a1", "c2", now, false) {
		t.Error("cooldown leaked to another channel")
	}
	if !l.CanRespond("a2", "c1", now, false) {
		t.Error("cooldown leaked to another agent")
	}
}

func TestLedger_SweepDropsStaleEntries(t *testing.T) {
	l := NewLedger(Config{EntryTTL: time.Hour})
	now := time.Now()

	l.Record("a1", "c1", now.Add(-2*time.Hour), false)
	l.Record("a2", "c1", now, false)

	if removed := l.Sweep(now); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if got := l.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}
}

func TestLedger_SnapshotRestoreKeepsNewest(t *testing.T) {
	l := NewLedger(Config{})
	now := time.Now()
	l.Record("a1", "c1", now, true)

	restored := NewLedger(Config{})
	restored.Record("a1", "c1", now.Add(time.Minute), false)
	restored.Restore(l.Snapshot())

	// The newer in-memory entry wins over the older snapshot.
	if restored.CanRespond("a1", "c1", now.Add(time.Minute), false) {
		t.Error("restore overwrote a newer entry with an older one")
	}
}
