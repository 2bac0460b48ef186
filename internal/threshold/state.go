package threshold

import (
	"sync/atomic"
	"time"
)

// State holds the running counters for one configuration. Counters only grow
// until the state is reset.
type State struct {
	configID string

	maxErrors        atomic.Int64
	warningThreshold atomic.Int64

	errors     atomic.Int64
	warnings   atomic.Int64
	records    atomic.Int64
	lastUpdate atomic.Int64 // unix nanos
}

func newState(configID string, maxErrors, warningThreshold int64, now time.Time) *State {
	s := &State{configID: configID}
	s.maxErrors.Store(maxErrors)
	s.warningThreshold.Store(warningThreshold)
	s.lastUpdate.Store(now.UnixNano())
	return s
}

func (s *State) add(errors, warnings, records int64, now time.Time) (int64, int64, int64) {
	e := s.errors.Add(errors)
	w := s.warnings.Add(warnings)
	r := s.records.Add(records)
	s.lastUpdate.Store(now.UnixNano())
	return e, w, r
}

func (s *State) reset(now time.Time) {
	s.errors.Store(0)
	s.warnings.Store(0)
	s.records.Store(0)
	s.lastUpdate.Store(now.UnixNano())
}

func (s *State) updatedBefore(cutoff time.Time) bool {
	return s.lastUpdate.Load() < cutoff.UnixNano()
}

// Snapshot is a point-in-time copy of a State.
type Snapshot struct {
	ConfigID         string    `json:"config_id"`
	MaxErrors        int64     `json:"max_errors"`
	WarningThreshold int64     `json:"warning_threshold"`
	Errors           int64     `json:"errors"`
	Warnings         int64     `json:"warnings"`
	Records          int64     `json:"records"`
	LastUpdate       time.Time `json:"last_update"`
}

func (s *State) snapshot() Snapshot {
	return Snapshot{
		ConfigID:         s.configID,
		MaxErrors:        s.maxErrors.Load(),
		WarningThreshold: s.warningThreshold.Load(),
		Errors:           s.errors.Load(),
		Warnings:         s.warnings.Load(),
		Records:          s.records.Load(),
		LastUpdate:       time.Unix(0, s.lastUpdate.Load()).UTC(),
	}
}
