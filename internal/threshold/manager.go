// Package threshold tracks accumulated validation errors per configuration and
// decides whether a load may continue.
package threshold

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/timmy/loadgate/internal/audit"
	"github.com/timmy/loadgate/internal/domain"
	"github.com/timmy/loadgate/internal/logger"
	"github.com/timmy/loadgate/internal/validation"
)

// Action is what the caller should do after a threshold check.
type Action string

const (
	ActionContinue          Action = "CONTINUE"
	ActionContinueWithAlert Action = "CONTINUE_WITH_ALERT"
	ActionStopProcessing    Action = "STOP_PROCESSING"
)

// Type is the kind of limit that was reached.
type Type string

const (
	TypeNone    Type = "NONE"
	TypeError   Type = "ERROR"
	TypeWarning Type = "WARNING"
)

// CheckResult is the outcome of CheckThreshold.
type CheckResult struct {
	ConfigID         string `json:"config_id"`
	Exceeded         bool   `json:"exceeded"`
	Type             Type   `json:"type"`
	Action           Action `json:"action"`
	CurrentErrors    int64  `json:"current_errors"`
	CurrentWarnings  int64  `json:"current_warnings"`
	TotalRecords     int64  `json:"total_records"`
	MaxErrors        int64  `json:"max_errors"`
	WarningThreshold int64  `json:"warning_threshold"`
	Message          string `json:"message"`
}

// ShouldStop reports whether the load must halt.
func (r CheckResult) ShouldStop() bool {
	return r.Action == ActionStopProcessing
}

// Options configure a Manager.
type Options struct {
	// WarningRatio derives the warning threshold from MaxErrors when a
	// configuration sets none. Zero means domain.DefaultWarningRatio.
	WarningRatio float64
	// Sink receives a THRESHOLD_BREACH event for every exceeded check.
	Sink audit.Sink
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Manager owns the per-configuration threshold states. A single Manager is
// shared by every validation pass in the process.
type Manager struct {
	mu     sync.RWMutex
	states map[string]*State

	ratio float64
	sink  audit.Sink
	now   func() time.Time
}

// NewManager creates an empty Manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		states: make(map[string]*State),
		ratio:  opts.WarningRatio,
		sink:   opts.Sink,
		now:    opts.Now,
	}
	if m.ratio <= 0 {
		m.ratio = domain.DefaultWarningRatio
	}
	if m.sink == nil {
		m.sink = audit.Nop
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// withState runs fn on the state for configID while holding the read lock, so
// a concurrent cleanup cannot evict the state mid-update.
func (m *Manager) withState(configID string, cfg *domain.LoadConfig, fn func(*State)) {
	for {
		m.mu.RLock()
		if st, ok := m.states[configID]; ok {
			fn(st)
			m.mu.RUnlock()
			return
		}
		m.mu.RUnlock()

		m.mu.Lock()
		if _, ok := m.states[configID]; !ok {
			maxErrors, warn := m.limits(cfg)
			m.states[configID] = newState(configID, maxErrors, warn, m.now())
		}
		m.mu.Unlock()
	}
}

func (m *Manager) limits(cfg *domain.LoadConfig) (int64, int64) {
	if cfg == nil {
		return 0, 0
	}
	return int64(cfg.MaxErrors), int64(cfg.EffectiveWarningThreshold(m.ratio))
}

// CheckThreshold adds the summary's counts to the tracker for configID and
// evaluates the limits in priority order: errors first, then warnings.
// Limits are refreshed from cfg on every call.
func (m *Manager) CheckThreshold(ctx context.Context, configID string, cfg *domain.LoadConfig, summary *validation.Summary) CheckResult {
	var errs, warns, recs int64
	if summary != nil {
		errs, warns, recs = summary.ErrorCount, summary.WarningCount, summary.TotalRecords
	}

	res := CheckResult{ConfigID: configID, Type: TypeNone, Action: ActionContinue}
	m.withState(configID, cfg, func(st *State) {
		if cfg != nil {
			maxErrors, warn := m.limits(cfg)
			st.maxErrors.Store(maxErrors)
			st.warningThreshold.Store(warn)
		}
		res.CurrentErrors, res.CurrentWarnings, res.TotalRecords = st.add(errs, warns, recs, m.now())
		res.MaxErrors = st.maxErrors.Load()
		res.WarningThreshold = st.warningThreshold.Load()
	})

	switch {
	case res.MaxErrors > 0 && res.CurrentErrors >= res.MaxErrors:
		res.Exceeded = true
		res.Type = TypeError
		res.Action = ActionStopProcessing
		res.Message = fmt.Sprintf("error threshold exceeded for %s: %d errors, limit %d", configID, res.CurrentErrors, res.MaxErrors)
	case res.WarningThreshold > 0 && res.CurrentWarnings >= res.WarningThreshold:
		res.Exceeded = true
		res.Type = TypeWarning
		res.Action = ActionContinueWithAlert
		res.Message = fmt.Sprintf("warning threshold reached for %s: %d warnings, threshold %d", configID, res.CurrentWarnings, res.WarningThreshold)
	default:
		res.Message = fmt.Sprintf("within thresholds for %s", configID)
	}

	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldConfigID:     configID,
		logger.FieldErrorCount:   res.CurrentErrors,
		logger.FieldWarningCount: res.CurrentWarnings,
		"action":                 string(res.Action),
	})
	if res.Exceeded {
		log.Warn(res.Message)
		m.emitBreach(ctx, res)
	} else {
		log.Debug(res.Message)
	}
	return res
}

func (m *Manager) emitBreach(ctx context.Context, res CheckResult) {
	e := audit.NewEvent(audit.EventThresholdBreach, res.Message).
		With("action", string(res.Action)).
		With("errors", strconv.FormatInt(res.CurrentErrors, 10)).
		With("warnings", strconv.FormatInt(res.CurrentWarnings, 10)).
		With("max_errors", strconv.FormatInt(res.MaxErrors, 10))
	e.ConfigID = res.ConfigID
	e.ExecutionID = logger.GetExecutionID(ctx)
	e.CorrelationID = logger.GetCorrelationID(ctx)
	e.Severity = string(res.Type)
	m.sink.Emit(ctx, e)
}

// ShouldContinueProcessing is the per-record check for callers that stop
// mid-stream. A non-positive maxAllowed never stops; otherwise processing
// continues until currentErrors exceeds maxAllowed.
func (m *Manager) ShouldContinueProcessing(ctx context.Context, configID string, currentErrors int64, maxAllowed int) bool {
	if maxAllowed <= 0 {
		return true
	}
	if currentErrors <= int64(maxAllowed) {
		return true
	}
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldConfigID:   configID,
		logger.FieldErrorCount: currentErrors,
	}).Warnf("Stopping: %d errors exceed the allowed %d", currentErrors, maxAllowed)
	return false
}

// StopFunc adapts ShouldContinueProcessing to a validation.StopFunc.
func (m *Manager) StopFunc(ctx context.Context, configID string, maxAllowed int) validation.StopFunc {
	return func(errorsSoFar int64) bool {
		return m.ShouldContinueProcessing(ctx, configID, errorsSoFar, maxAllowed)
	}
}

// ResetThresholds zeroes the counters of configID. It reports whether a
// tracker existed.
func (m *Manager) ResetThresholds(ctx context.Context, configID string) bool {
	m.mu.RLock()
	st, ok := m.states[configID]
	if ok {
		st.reset(m.now())
	}
	m.mu.RUnlock()
	if ok {
		logger.FromContext(ctx).WithField(logger.FieldConfigID, configID).Info("Threshold counters reset")
	}
	return ok
}

// CleanupOldTrackers evicts trackers not updated within retention and returns
// how many were removed.
func (m *Manager) CleanupOldTrackers(ctx context.Context, retention time.Duration) int {
	cutoff := m.now().Add(-retention)

	m.mu.Lock()
	removed := 0
	for id, st := range m.states {
		if st.updatedBefore(cutoff) {
			delete(m.states, id)
			removed++
		}
	}
	remaining := len(m.states)
	m.mu.Unlock()

	if removed > 0 {
		logger.With(logger.Fields{
			logger.FieldCount: removed,
			"remaining":       remaining,
		}).Info(ctx, "Evicted idle threshold trackers older than %s", retention)
	}
	return removed
}

// Snapshot returns the state of configID.
func (m *Manager) Snapshot(configID string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[configID]
	if !ok {
		return Snapshot{}, false
	}
	return st.snapshot(), true
}

// Snapshots returns every tracked state ordered by configuration id.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st.snapshot())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConfigID < out[j].ConfigID })
	return out
}
