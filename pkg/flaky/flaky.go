// Package flaky tracks per-test pass/fail history, scores flakiness and
// quarantines tests that keep failing.
package flaky

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devicelab-dev/zylix-test/pkg/logger"
)

// MinRunsForScore is the number of runs before a flakiness score is given.
const MinRunsForScore = 5

// DefaultFlakyThreshold is the score at which Summary counts a test as flaky.
const DefaultFlakyThreshold = 0.5

// Config controls quarantine transitions.
type Config struct {
	AutoQuarantine        bool `yaml:"auto_quarantine" json:"autoQuarantine"`
	QuarantineThreshold   int  `yaml:"quarantine_threshold" json:"quarantineThreshold"`
	AutoUnquarantine      bool `yaml:"auto_unquarantine" json:"autoUnquarantine"`
	UnquarantineThreshold int  `yaml:"unquarantine_threshold" json:"unquarantineThreshold"`
}

// DefaultConfig quarantines after 3 consecutive failures and releases
// after 5 consecutive passes.
func DefaultConfig() Config {
	return Config{
		AutoQuarantine:        true,
		QuarantineThreshold:   3,
		AutoUnquarantine:      true,
		UnquarantineThreshold: 5,
	}
}

// History is the recorded outcome history of one test.
type History struct {
	Runs                int       `json:"runs"`
	Passes              int       `json:"passes"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	ConsecutivePasses   int       `json:"consecutivePasses"`
	LastPass            time.Time `json:"lastPass,omitempty"`
	LastFailure         time.Time `json:"lastFailure,omitempty"`
}

// PassRate returns Passes/Runs, or 0 before the first run.
func (h History) PassRate() float64 {
	if h.Runs == 0 {
		return 0
	}
	return float64(h.Passes) / float64(h.Runs)
}

// QuarantineInfo describes why a test is quarantined. Presence in the
// handler's quarantine set is the quarantine state.
type QuarantineInfo struct {
	Reason        string    `json:"reason"`
	QuarantinedAt time.Time `json:"quarantinedAt"`
	FailureCount  int       `json:"failureCount"`
	Auto          bool      `json:"auto"`
}

// State is a serialisable copy of a handler's data.
type State struct {
	History    map[string]History        `json:"history"`
	Quarantine map[string]QuarantineInfo `json:"quarantine"`
}

// Summary aggregates the handler's state.
type Summary struct {
	Tracked         int
	Quarantined     int
	AutoQuarantined int
	Flaky           int
}

// Handler records results. It is safe for concurrent use.
type Handler struct {
	cfg Config
	log logrus.FieldLogger
	now func() time.Time

	mu         sync.RWMutex
	history    map[string]*History
	quarantine map[string]QuarantineInfo
}

// Option configures a Handler.
type Option func(*Handler)

func WithLogger(l logrus.FieldLogger) Option {
	return func(h *Handler) { h.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// New creates an empty handler.
func New(cfg Config, opts ...Option) *Handler {
	h := &Handler{
		cfg:        cfg,
		log:        logger.Component("flaky"),
		now:        time.Now,
		history:    make(map[string]*History),
		quarantine: make(map[string]QuarantineInfo),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RecordResult adds one outcome for name and applies the automatic
// quarantine transitions. Only automatic quarantines are released by a run
// of passes; a test quarantined with Quarantine stays quarantined until
// Unquarantine is called.
func (h *Handler) RecordResult(name string, passed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	hist := h.history[name]
	if hist == nil {
		hist = &History{}
		h.history[name] = hist
	}
	now := h.now()
	hist.Runs++

	if passed {
		hist.Passes++
		hist.ConsecutivePasses++
		hist.ConsecutiveFailures = 0
		hist.LastPass = now

		q, ok := h.quarantine[name]
		if ok && q.Auto && h.cfg.AutoUnquarantine && hist.ConsecutivePasses >= h.cfg.UnquarantineThreshold {
			delete(h.quarantine, name)
			h.log.WithFields(logrus.Fields{"test": name, "passes": hist.ConsecutivePasses}).Info("released from quarantine")
		}
		return
	}

	hist.ConsecutiveFailures++
	hist.ConsecutivePasses = 0
	hist.LastFailure = now

	if !h.cfg.AutoQuarantine || hist.ConsecutiveFailures < h.cfg.QuarantineThreshold {
		return
	}
	if q, ok := h.quarantine[name]; ok {
		q.FailureCount = hist.ConsecutiveFailures
		h.quarantine[name] = q
		return
	}
	h.quarantine[name] = QuarantineInfo{
		Reason:        "consecutive failures",
		QuarantinedAt: now,
		FailureCount:  hist.ConsecutiveFailures,
		Auto:          true,
	}
	h.log.WithFields(logrus.Fields{"test": name, "failures": hist.ConsecutiveFailures}).Info("quarantined")
}

// Quarantine manually quarantines name. Manual entries are never released
// automatically.
func (h *Handler) Quarantine(name, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	info := QuarantineInfo{Reason: reason, QuarantinedAt: h.now()}
	if prev, ok := h.quarantine[name]; ok {
		info.QuarantinedAt = prev.QuarantinedAt
	}
	if hist := h.history[name]; hist != nil {
		info.FailureCount = hist.ConsecutiveFailures
	}
	h.quarantine[name] = info
	h.log.WithFields(logrus.Fields{"test": name, "reason": reason}).Info("quarantined manually")
}

// Unquarantine releases name and resets its history.
func (h *Handler) Unquarantine(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.quarantine, name)
	delete(h.history, name)
	h.log.WithField("test", name).Info("released from quarantine manually")
}

func (h *Handler) IsQuarantined(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.quarantine[name]
	return ok
}

// QuarantineInfo returns the quarantine entry for name.
func (h *Handler) QuarantineInfo(name string) (QuarantineInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	q, ok := h.quarantine[name]
	return q, ok
}

// Quarantined returns the quarantined test names, sorted.
func (h *Handler) Quarantined() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.quarantine))
	for name := range h.quarantine {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// History returns a copy of name's history.
func (h *Handler) History(name string) (History, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if hist := h.history[name]; hist != nil {
		return *hist, true
	}
	return History{}, false
}

// FlakinessScore is 0 below MinRunsForScore runs; otherwise it peaks at 1
// for a 50% pass rate and falls to 0 for tests that always pass or fail.
func (h *Handler) FlakinessScore(name string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return score(h.history[name])
}

func score(hist *History) float64 {
	if hist == nil || hist.Runs < MinRunsForScore {
		return 0
	}
	return 1 - math.Abs(hist.PassRate()-0.5)*2
}

// FlakyTests returns the names scoring at least threshold, sorted.
func (h *Handler) FlakyTests(threshold float64) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var names []string
	for name, hist := range h.history {
		if hist.Runs >= MinRunsForScore && score(hist) >= threshold {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Summary counts tracked, quarantined and flaky tests.
func (h *Handler) Summary() Summary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := Summary{Tracked: len(h.history), Quarantined: len(h.quarantine)}
	for _, q := range h.quarantine {
		if q.Auto {
			s.AutoQuarantined++
		}
	}
	for _, hist := range h.history {
		if hist.Runs >= MinRunsForScore && score(hist) >= DefaultFlakyThreshold {
			s.Flaky++
		}
	}
	return s
}

// Snapshot copies the handler's state.
func (h *Handler) Snapshot() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := State{
		History:    make(map[string]History, len(h.history)),
		Quarantine: make(map[string]QuarantineInfo, len(h.quarantine)),
	}
	for name, hist := range h.history {
		st.History[name] = *hist
	}
	for name, q := range h.quarantine {
		st.Quarantine[name] = q
	}
	return st
}

// Restore replaces the handler's state with st.
func (h *Handler) Restore(st State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = make(map[string]*History, len(st.History))
	h.quarantine = make(map[string]QuarantineInfo, len(st.Quarantine))
	for name, hist := range st.History {
		hist := hist
		h.history[name] = &hist
	}
	for name, q := range st.Quarantine {
		h.quarantine[name] = q
	}
}
