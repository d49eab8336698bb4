package monitor

import (
	"testing"
	"time"
)

func TestStateAdvisoryLatch(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewState()

	s.Finish("ok", t0, time.Second, true, 0, 0, 0)
	for i := range 4 {
		s.Finish("f", t0.Add(time.Duration(i+1)*time.Second), 0, false, 0, 0, 0)
		if s.LatchAdvisory(t0.Add(time.Minute), 5, time.Hour) {
			t.Fatalf("latched after %d failures", i+1)
		}
	}
	s.Finish("f", t0.Add(5*time.Second), 0, false, 0, 0, 0)
	if !s.LatchAdvisory(t0.Add(time.Minute), 5, time.Hour) {
		t.Fatalf("not latched at threshold")
	}
	if s.LatchAdvisory(t0.Add(time.Minute), 5, time.Hour) {
		t.Fatalf("latched twice")
	}
	if s.ClearAdvisory() {
		t.Fatalf("cleared while still failing")
	}
	s.Finish("ok", t0.Add(2*time.Minute), 0, true, 0, 0, 0)
	if !s.ClearAdvisory() {
		t.Fatalf("expected recovery")
	}
	if s.ClearAdvisory() {
		t.Fatalf("recovery reported twice")
	}
}

func TestStateStaleFromLastSuccess(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewState()
	s.Finish("ok", t0, 0, true, 0, 0, 0)
	s.Finish("f", t0.Add(time.Minute), 0, false, 0, 0, 0)
	if s.LatchAdvisory(t0.Add(4*time.Minute), 5, 5*time.Minute) {
		t.Fatalf("stale too early")
	}
	if !s.LatchAdvisory(t0.Add(5*time.Minute), 5, 5*time.Minute) {
		t.Fatalf("stale not detected")
	}
}

func TestStateTryBeginCountsSkips(t *testing.T) {
	t.Parallel()
	s := NewState()
	if !s.TryBegin() {
		t.Fatalf("first begin failed")
	}
	if s.TryBegin() {
		t.Fatalf("second begin succeeded")
	}
	s.End()
	if s.Running() {
		t.Fatalf("still running after End")
	}
	snap := s.Snapshot()
	if snap.Skipped != 1 {
		t.Fatalf("skipped = %d", snap.Skipped)
	}
}

func TestStateCounters(t *testing.T) {
	t.Parallel()
	s := NewState()
	t0 := time.Now()
	s.Finish("a", t0, time.Second, true, 2, 3, 1)
	s.Finish("b", t0.Add(time.Minute), 2*time.Second, true, 1, 1, 0)
	snap := s.Snapshot()
	if snap.Scans != 2 || snap.Detected != 3 || snap.Sent != 4 || snap.Failed != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.LastScanID != "b" || snap.LastDuration != 2*time.Second {
		t.Fatalf("unexpected last scan: %+v", snap)
	}
	if !snap.LastSuccess.Equal(t0.Add(time.Minute + 2*time.Second)) {
		t.Fatalf("last success = %v", snap.LastSuccess)
	}
}
