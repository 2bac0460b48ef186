package validation

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/timmy/loadgate/internal/domain"
)

// BlobField is the single field produced for a fixed-width line without column specs.
const BlobField = "RECORD"

// MaxLineBytes bounds one physical line. Longer lines become parse errors.
const MaxLineBytes = 1 << 20

// Reader streams records out of an inbound file. Header rows and blank lines are
// skipped. Record numbers are 1-based physical line numbers, so two readers over
// the same file agree on numbering.
type Reader struct {
	br      *bufio.Reader
	cfg     *domain.LoadConfig
	line    int64
	maxLine int
}

// NewReader creates a Reader for r parsed according to cfg.
func NewReader(r io.Reader, cfg *domain.LoadConfig) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024), cfg: cfg, maxLine: MaxLineBytes}
}

// Next returns the next record or io.EOF. A line that cannot be parsed, or that
// exceeds MaxLineBytes, is returned with ParseError set rather than as an error.
func (r *Reader) Next() (Record, error) {
	for {
		raw, truncated, err := r.readLine()
		if err == io.EOF {
			return Record{}, io.EOF
		}
		if err != nil {
			return Record{}, fmt.Errorf("read line %d: %w", r.line+1, err)
		}
		r.line++
		if r.line <= int64(r.cfg.HeaderRows) {
			continue
		}
		if truncated {
			return Record{
				Number:     r.line,
				Fields:     map[string]*string{},
				ParseError: fmt.Sprintf("line %d: longer than %d bytes", r.line, r.maxLine),
			}, nil
		}
		line := string(raw)
		if strings.TrimSpace(line) == "" {
			continue
		}
		return ParseLine(r.line, line, r.cfg), nil
	}
}

// readLine returns the next physical line without its terminator. The rest of
// a line longer than maxLine is read and dropped, and truncated is set.
func (r *Reader) readLine() (line []byte, truncated bool, err error) {
	for {
		chunk, err := r.br.ReadSlice('\n')
		if truncated || len(line)+len(chunk) > r.maxLine {
			truncated = true
		} else {
			line = append(line, chunk...)
		}
		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF:
			if len(line) == 0 && !truncated {
				return nil, false, io.EOF
			}
		case err != nil:
			return nil, false, err
		}
		return bytes.TrimRight(line, "\r\n"), truncated, nil
	}
}

// ParseLine splits one raw line into fields. Values are trimmed and empty values
// become null.
func ParseLine(number int64, raw string, cfg *domain.LoadConfig) Record {
	rec := Record{Number: number, Raw: raw, Fields: make(map[string]*string)}

	switch cfg.FileType {
	case domain.FileTypeFixedWidth:
		if len(cfg.Columns) == 0 {
			blob := raw
			rec.Fields[BlobField] = &blob
			return rec
		}
		for _, col := range cfg.Columns {
			if col.Start >= len(raw) {
				rec.ParseError = fmt.Sprintf("line %d: too short for column %s at offset %d", number, col.Name, col.Start)
				return rec
			}
			end := col.Start + col.Length
			if col.Length <= 0 || end > len(raw) {
				end = len(raw)
			}
			rec.Fields[col.Name] = nullable(raw[col.Start:end])
		}
	default:
		parts := strings.Split(raw, cfg.Delimiter())
		names := cfg.Columns.Names()
		if len(names) > 0 && len(parts) != len(names) {
			rec.ParseError = fmt.Sprintf("line %d: expected %d fields, found %d", number, len(names), len(parts))
			return rec
		}
		for i, p := range parts {
			name := fmt.Sprintf("FIELD_%d", i+1)
			if len(names) > 0 {
				name = names[i]
			}
			rec.Fields[name] = nullable(p)
		}
	}
	return rec
}

func nullable(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
