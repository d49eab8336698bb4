package monitor

import (
	"sync"
	"sync/atomic"
	"time"
)

// ScanState is a read-only snapshot of State.
type ScanState struct {
	Running             bool          `json:"running"`
	LastSuccess         time.Time     `json:"last_success,omitempty"`
	LastScan            time.Time     `json:"last_scan,omitempty"`
	LastScanID          string        `json:"last_scan_id,omitempty"`
	LastDuration        time.Duration `json:"last_duration"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Scans               uint64        `json:"scans"`
	Skipped             uint64        `json:"skipped_ticks"`
	Detected            uint64        `json:"detected"`
	Sent                uint64        `json:"sent"`
	Failed              uint64        `json:"failed"`
	AdvisoryActive      bool          `json:"advisory_active"`
}

// State is owned by the scanner. The running flag is atomic so a tick can
// be rejected without touching the mutex.
type State struct {
	running atomic.Bool

	mu           sync.Mutex
	firstScan    time.Time
	lastSuccess  time.Time
	lastScan     time.Time
	lastScanID   string
	lastDuration time.Duration
	failures     int
	scans        uint64
	skipped      uint64
	detected     uint64
	sent         uint64
	failed       uint64
	advisory     bool
}

func NewState() *State { return &State{} }

// TryBegin claims the running flag. False means a scan is in progress.
func (s *State) TryBegin() bool {
	if s.running.CompareAndSwap(false, true) {
		return true
	}
	s.mu.Lock()
	s.skipped++
	s.mu.Unlock()
	return false
}

// End clears the running flag.
func (s *State) End() { s.running.Store(false) }

func (s *State) Running() bool { return s.running.Load() }

// Finish records the outcome of a completed scan.
func (s *State) Finish(id string, started time.Time, d time.Duration, success bool, detected, sent, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstScan.IsZero() {
		s.firstScan = started
	}
	s.scans++
	s.lastScan = started
	s.lastScanID = id
	s.lastDuration = d
	s.detected += uint64(detected)
	s.sent += uint64(sent)
	s.failed += uint64(failed)
	if success {
		s.failures = 0
		s.lastSuccess = started.Add(d)
	} else {
		s.failures++
	}
}

// LatchAdvisory reports true exactly once per outage: when failures reach
// threshold or nothing succeeded within staleAfter (measured from the last
// success, or the first scan when none succeeded).
func (s *State) LatchAdvisory(now time.Time, threshold int, staleAfter time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.advisory || s.failures == 0 {
		return false
	}
	ref := s.lastSuccess
	if ref.IsZero() {
		ref = s.firstScan
	}
	stale := staleAfter > 0 && !ref.IsZero() && now.Sub(ref) >= staleAfter
	if (threshold > 0 && s.failures >= threshold) || stale {
		s.advisory = true
		return true
	}
	return false
}

// ClearAdvisory resets the latch after a success. It reports whether an
// advisory had been sent, so the caller can announce recovery.
func (s *State) ClearAdvisory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.advisory || s.failures != 0 {
		return false
	}
	s.advisory = false
	return true
}

func (s *State) Snapshot() ScanState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ScanState{
		Running:             s.running.Load(),
		LastSuccess:         s.lastSuccess,
		LastScan:            s.lastScan,
		LastScanID:          s.lastScanID,
		LastDuration:        s.lastDuration,
		ConsecutiveFailures: s.failures,
		Scans:               s.scans,
		Skipped:             s.skipped,
		Detected:            s.detected,
		Sent:                s.sent,
		Failed:              s.failed,
		AdvisoryActive:      s.advisory,
	}
}
