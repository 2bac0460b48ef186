package validation

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"

	"github.com/timmy/loadgate/internal/domain"
	"github.com/timmy/loadgate/internal/logger"
)

// ResourceKind classifies fatal failures that prevent a validation pass.
type ResourceKind string

const (
	ResourceNotFound      ResourceKind = "NOT_FOUND"
	ResourceUnreadable    ResourceKind = "UNREADABLE"
	ResourceEmpty         ResourceKind = "EMPTY"
	ResourceConfiguration ResourceKind = "CONFIGURATION"
)

// ErrEmptyFile is wrapped by ResourceError when the inbound file has no content.
var ErrEmptyFile = errors.New("file is empty")

// ResourceError is returned when the file or its configuration cannot be used.
// The accompanying Summary is FAILED and contains no record results.
type ResourceError struct {
	Kind ResourceKind
	Path string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// Options tune a FileValidator.
type Options struct {
	// MaxSamples bounds the failing records kept in the summary; 0 means DefaultMaxSamples.
	MaxSamples int
	// DetectDuplicates enables in-file duplicate line detection.
	DetectDuplicates bool
	// DuplicateSeverity is the severity of a duplicate line; empty means WARNING.
	DuplicateSeverity domain.Severity
	// BatchReferences, when set, resolves REFERENTIAL_INTEGRITY rules once per
	// file instead of once per record.
	BatchReferences BatchReferenceChecker
	// TrackInvalid remembers invalid record numbers so that Summary.IsInvalid works
	// for per-record failures.
	TrackInvalid bool
}

// StopFunc is consulted after every record with the running error count; returning
// false stops reading the file.
type StopFunc func(errorsSoFar int64) bool

// RecordSink receives every record result as it is produced.
type RecordSink func(*RecordResult)

// RunOption customizes a single validation call.
type RunOption func(*run)

// WithStopFunc installs a mid-stream stop check.
func WithStopFunc(f StopFunc) RunOption {
	return func(r *run) { r.stop = f }
}

// WithRecordSink installs a per-record callback.
func WithRecordSink(f RecordSink) RunOption {
	return func(r *run) { r.sink = f }
}

type run struct {
	summary *Summary
	stop    StopFunc
	sink    RecordSink
}

// FileValidator streams an inbound file through a RecordValidator.
type FileValidator struct {
	provider ConfigurationProvider
	records  *RecordValidator
	opts     Options
}

// NewFileValidator creates a FileValidator. provider may be nil when only
// ValidateFile is used.
func NewFileValidator(provider ConfigurationProvider, records *RecordValidator, opts Options) *FileValidator {
	if opts.DuplicateSeverity == "" {
		opts.DuplicateSeverity = domain.SeverityWarning
	}
	return &FileValidator{provider: provider, records: records, opts: opts}
}

func (v *FileValidator) begin(configID, path string, opts []RunOption) *run {
	r := &run{summary: newSummary(configID, path, v.opts.MaxSamples, v.opts.TrackInvalid)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Validate checks the file, loads the configuration and rules for configID and
// validates the file. Resource failures return a FAILED summary together with a
// *ResourceError.
func (v *FileValidator) Validate(ctx context.Context, configID, path string, opts ...RunOption) (*Summary, error) {
	r := v.begin(configID, path, opts)

	f, err := openInbound(path)
	if err != nil {
		return r.fail(ctx, err)
	}
	defer f.Close()

	cfg, err := v.provider.LoadConfig(ctx, configID)
	if err != nil {
		return r.fail(ctx, &ResourceError{Kind: ResourceConfiguration, Path: configID, Err: err})
	}
	rules, err := v.provider.RuleCatalog(ctx, configID)
	if err != nil {
		return r.fail(ctx, &ResourceError{Kind: ResourceConfiguration, Path: configID, Err: err})
	}

	return v.validate(ctx, r, f, cfg, NewCatalog(configID, rules))
}

// ValidateFile validates path with an already loaded configuration and catalog.
func (v *FileValidator) ValidateFile(ctx context.Context, cfg *domain.LoadConfig, catalog *Catalog, path string, opts ...RunOption) (*Summary, error) {
	r := v.begin(cfg.ID, path, opts)

	f, err := openInbound(path)
	if err != nil {
		return r.fail(ctx, err)
	}
	defer f.Close()

	return v.validate(ctx, r, f, cfg, catalog)
}

func (v *FileValidator) validate(ctx context.Context, r *run, in io.Reader, cfg *domain.LoadConfig, catalog *Catalog) (*Summary, error) {
	s := r.summary
	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldConfigID: s.ConfigID,
		logger.FieldFile:     s.FilePath,
	})

	if catalog.Empty() {
		s.Status = StatusSkipped
		s.message(fmt.Sprintf("no validation rules configured for %s, validation skipped", s.ConfigID))
		s.finalize()
		log.Warn("Validation skipped: empty rule catalog")
		return s, nil
	}

	var (
		refs   *referenceCollector
		skip   func(*domain.ValidationRule) bool
		hashes map[[sha256.Size]byte]int64
		dups   []duplicate
	)
	if v.opts.BatchReferences != nil {
		refs = newReferenceCollector(catalog)
		skip = refs.deferred
	}
	if v.opts.DetectDuplicates {
		hashes = make(map[[sha256.Size]byte]int64)
	}

	reader := NewReader(in, cfg)
	for {
		if err := ctx.Err(); err != nil {
			s.Aborted = true
			s.message("validation canceled")
			s.finalize()
			return s, err
		}

		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// an I/O error ends the file; oversized lines come back as records
			s.countFailure(RecordField, RuleTypeParse, domain.SeverityError, 1)
			s.Aborted = true
			s.message(err.Error())
			break
		}

		result := v.records.evaluate(ctx, rec, catalog, skip)
		s.add(&result)
		if r.sink != nil {
			r.sink(&result)
		}

		if rec.ParseError == "" {
			if hashes != nil {
				h := sha256.Sum256([]byte(rec.Raw))
				if first, seen := hashes[h]; seen {
					dups = append(dups, duplicate{number: rec.Number, first: first})
				} else {
					hashes[h] = rec.Number
				}
			}
			if refs != nil {
				refs.collect(rec)
			}
		}

		if r.stop != nil && !r.stop(s.ErrorCount) {
			s.Aborted = true
			s.message(fmt.Sprintf("validation stopped after %d errors at line %d", s.ErrorCount, rec.Number))
			break
		}
	}

	// Cross-record checks only run while the file is still passing.
	if s.ErrorCount == 0 {
		v.applyDuplicates(s, dups)
	}
	if s.ErrorCount == 0 && refs != nil {
		v.applyReferences(ctx, s, refs)
	}

	s.finalize()
	logger.With(nil).
		WithStatus(string(s.Status)).
		WithRecords(s.TotalRecords, s.InvalidRecords).
		WithIssues(s.ErrorCount, s.WarningCount).
		WithDuration(s.Duration).
		Info(log.WithContext(ctx), "Validation finished: valid=%d", s.ValidRecords)
	return s, nil
}

func (r *run) fail(ctx context.Context, err error) (*Summary, error) {
	s := r.summary
	s.ErrorCount = 1
	s.message(err.Error())
	s.finalize()
	logger.FromContext(ctx).WithError(err).WithField(logger.FieldFile, s.FilePath).Error("Validation failed before reading records")
	return s, err
}

// openInbound performs the existence, readability and non-empty checks.
func openInbound(path string) (*os.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ResourceError{Kind: ResourceNotFound, Path: path, Err: err}
		}
		return nil, &ResourceError{Kind: ResourceUnreadable, Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &ResourceError{Kind: ResourceUnreadable, Path: path, Err: errors.New("is a directory")}
	}
	if info.Size() == 0 {
		return nil, &ResourceError{Kind: ResourceEmpty, Path: path, Err: ErrEmptyFile}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &ResourceError{Kind: ResourceUnreadable, Path: path, Err: err}
	}
	return f, nil
}

type duplicate struct {
	number int64
	first  int64
}

func (v *FileValidator) applyDuplicates(s *Summary, dups []duplicate) {
	sev := v.opts.DuplicateSeverity
	for _, d := range dups {
		out := Outcome{
			Field:    RecordField,
			RuleType: RuleTypeDuplicate,
			Severity: sev,
			Message:  fmt.Sprintf("line %d duplicates line %d", d.number, d.first),
		}
		s.DuplicateCount++
		s.countFailure(RecordField, RuleTypeDuplicate, sev, 1)
		if sev.Blocking() {
			s.demote(d.number)
		}
		s.sample(RecordResult{RecordNumber: d.number, Outcomes: []Outcome{out}, Valid: !sev.Blocking()})
	}
}

// referenceCollector gathers distinct values for deferred referential-integrity rules.
type referenceCollector struct {
	rules  []*domain.ValidationRule
	ids    map[string]bool
	values map[string]map[string][]int64 // rule id -> value -> record numbers
}

func newReferenceCollector(catalog *Catalog) *referenceCollector {
	c := &referenceCollector{
		ids:    make(map[string]bool),
		values: make(map[string]map[string][]int64),
	}
	for _, r := range catalog.RulesOfType(domain.RuleTypeReferentialIntegrity) {
		if r.IsRecordLevel() {
			continue
		}
		c.rules = append(c.rules, r)
		c.ids[r.ID] = true
		c.values[r.ID] = make(map[string][]int64)
	}
	return c
}

func (c *referenceCollector) deferred(r *domain.ValidationRule) bool {
	return c.ids[r.ID]
}

func (c *referenceCollector) collect(rec Record) {
	for _, r := range c.rules {
		if v := rec.Fields[r.FieldName]; v != nil {
			c.values[r.ID][*v] = append(c.values[r.ID][*v], rec.Number)
		}
	}
}

func (v *FileValidator) applyReferences(ctx context.Context, s *Summary, c *referenceCollector) {
	for _, rule := range c.rules {
		byValue := c.values[rule.ID]
		if len(byValue) == 0 {
			continue
		}
		distinct := make([]string, 0, len(byValue))
		for val := range byValue {
			distinct = append(distinct, val)
		}
		sort.Strings(distinct)

		missing, err := v.opts.BatchReferences.MissingReferences(ctx, rule, distinct)
		if err != nil {
			s.countFailure(rule.FieldName, domain.RuleTypeReferentialIntegrity, domain.SeverityError, 1)
			s.message(fmt.Sprintf("reference check %s failed: %v", rule.ID, err))
			continue
		}

		sev := rule.Severity
		if sev == "" {
			sev = domain.SeverityError
		}
		for _, val := range missing {
			val := val
			for _, n := range byValue[val] {
				s.countFailure(rule.FieldName, domain.RuleTypeReferentialIntegrity, sev, 1)
				if sev.Blocking() {
					s.demote(n)
				}
				s.sample(RecordResult{
					RecordNumber: n,
					Valid:        !sev.Blocking(),
					Outcomes: []Outcome{{
						Field:    rule.FieldName,
						Value:    &val,
						RuleID:   rule.ID,
						RuleType: domain.RuleTypeReferentialIntegrity,
						Severity: sev,
						Message:  rule.FormatMessage(rule.FieldName, val, fmt.Sprintf("field %s value %q has no reference in %s", rule.FieldName, val, rule.Expression)),
					}},
				})
			}
		}
	}
}
