package validation

import (
	"time"

	"github.com/timmy/loadgate/internal/domain"
)

// Status is the overall verdict of a file validation.
type Status string

const (
	StatusPassed  Status = "PASSED"
	StatusWarning Status = "WARNING"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
)

// DefaultMaxSamples bounds the failing records kept in a Summary.
const DefaultMaxSamples = 100

// Summary aggregates the validation of one file. It is built by a single
// FileValidator call and finalized exactly once.
type Summary struct {
	ConfigID string `json:"config_id"`
	FilePath string `json:"file_path"`

	TotalRecords   int64 `json:"total_records"`
	ValidRecords   int64 `json:"valid_records"`
	InvalidRecords int64 `json:"invalid_records"`
	ErrorCount     int64 `json:"error_count"`
	WarningCount   int64 `json:"warning_count"`
	InfoCount      int64 `json:"info_count"`
	DuplicateCount int64 `json:"duplicate_count"`

	// FieldErrors tallies failing outcomes per field and rule type.
	FieldErrors map[string]map[domain.RuleType]int64 `json:"field_errors"`
	Samples     []RecordResult                       `json:"samples"`
	MaxSamples  int                                  `json:"max_samples"`

	Status             Status        `json:"status"`
	SuccessRatePercent float64       `json:"success_rate_percent"`
	StartTime          time.Time     `json:"start_time"`
	EndTime            time.Time     `json:"end_time"`
	Duration           time.Duration `json:"duration"`
	Messages           []string      `json:"messages,omitempty"`
	// Aborted is set when validation stopped before the end of the file.
	Aborted bool `json:"aborted"`

	invalid   map[int64]struct{}
	demoted   map[int64]struct{}
	finalized bool
}

func newSummary(configID, path string, maxSamples int, trackInvalid bool) *Summary {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	s := &Summary{
		ConfigID:    configID,
		FilePath:    path,
		FieldErrors: make(map[string]map[domain.RuleType]int64),
		MaxSamples:  maxSamples,
		StartTime:   time.Now(),
		demoted:     make(map[int64]struct{}),
	}
	if trackInvalid {
		s.invalid = make(map[int64]struct{})
	}
	return s
}

// add folds one record result into the running totals.
func (s *Summary) add(r *RecordResult) {
	s.TotalRecords++
	for _, o := range r.Outcomes {
		if !o.Passed {
			s.countFailure(o.Field, o.RuleType, o.Severity, 1)
		}
	}
	if r.Valid {
		s.ValidRecords++
	} else {
		s.markInvalid(r.RecordNumber)
	}
	if r.HasFailures() {
		s.sample(*r)
	}
}

func (s *Summary) countFailure(field string, t domain.RuleType, sev domain.Severity, n int64) {
	switch {
	case sev.Blocking():
		s.ErrorCount += n
	case sev == domain.SeverityWarning:
		s.WarningCount += n
	default:
		s.InfoCount += n
	}
	byType, ok := s.FieldErrors[field]
	if !ok {
		byType = make(map[domain.RuleType]int64)
		s.FieldErrors[field] = byType
	}
	byType[t] += n
}

func (s *Summary) markInvalid(number int64) {
	s.InvalidRecords++
	if s.invalid != nil {
		s.invalid[number] = struct{}{}
	}
}

// demote turns a record that passed the per-record rules invalid after a
// cross-record check. Each record is demoted at most once.
func (s *Summary) demote(number int64) {
	if _, seen := s.demoted[number]; seen {
		return
	}
	s.demoted[number] = struct{}{}
	s.ValidRecords--
	s.InvalidRecords++
}

func (s *Summary) sample(r RecordResult) {
	if len(s.Samples) < s.MaxSamples {
		s.Samples = append(s.Samples, r)
	}
}

// IsInvalid reports whether record number was found invalid. Per-record failures
// are only remembered when invalid-record tracking was enabled.
func (s *Summary) IsInvalid(number int64) bool {
	if _, ok := s.demoted[number]; ok {
		return true
	}
	_, ok := s.invalid[number]
	return ok
}

// TracksInvalid reports whether per-record failures are remembered for IsInvalid.
func (s *Summary) TracksInvalid() bool { return s.invalid != nil }

// Finalized reports whether finalize has run.
func (s *Summary) Finalized() bool { return s.finalized }

// finalize derives status, success rate and timing. Later calls are no-ops.
func (s *Summary) finalize() {
	if s.finalized {
		return
	}
	s.finalized = true
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	if s.TotalRecords > 0 {
		s.SuccessRatePercent = float64(s.ValidRecords) / float64(s.TotalRecords) * 100
	}

	if s.Status == StatusSkipped {
		return
	}
	switch {
	case s.ErrorCount > 0:
		s.Status = StatusFailed
	case s.WarningCount > 0:
		s.Status = StatusWarning
	default:
		s.Status = StatusPassed
	}
}

func (s *Summary) message(msg string) {
	s.Messages = append(s.Messages, msg)
}
