package loader

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

var (
	reLoaded    = regexp.MustCompile(`(\d+) Rows? successfully loaded`)
	reRejected  = regexp.MustCompile(`(\d+) Rows? not loaded due to data errors`)
	reDiscarded = regexp.MustCompile(`(\d+) Rows? not loaded because all WHEN clauses were failed`)
	reRead      = regexp.MustCompile(`Total logical records read:\s+(\d+)`)
	reRecord    = regexp.MustCompile(`^Record (\d+): Rejected - (.*)$`)
	reError     = regexp.MustCompile(`(ORA-\d{5}|SQL\*Loader-\d+):`)
)

// LogSummary is what ParseLog extracts from a loader log.
type LogSummary struct {
	Read       int64
	Loaded     int64
	Rejected   int64
	Discarded  int64
	Errors     []string
	Rejections []Rejection
}

// ParseLog scans SQL*Loader style log text for row counts, rejected records
// and ORA / SQL*Loader error lines.
func ParseLog(text string) LogSummary {
	var s LogSummary
	var pending *Rejection

	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		if m := reRecord.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			s.Rejections = append(s.Rejections, Rejection{Record: n, Message: m[2]})
			pending = &s.Rejections[len(s.Rejections)-1]
			continue
		}
		if reError.MatchString(line) {
			// an error line right after "Record N: Rejected" explains that record
			if pending != nil {
				pending.Message = pending.Message + " " + line
				pending = nil
			} else {
				s.Errors = append(s.Errors, line)
			}
			continue
		}
		pending = nil

		switch {
		case matchCount(reLoaded, line, &s.Loaded):
		case matchCount(reRejected, line, &s.Rejected):
		case matchCount(reDiscarded, line, &s.Discarded):
		case matchCount(reRead, line, &s.Read):
		}
	}
	return s
}

func matchCount(re *regexp.Regexp, line string, dst *int64) bool {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return false
	}
	*dst = n
	return true
}

// Apply folds the log summary into r.
func (s LogSummary) Apply(r *LoadResult) {
	if s.Read > 0 {
		r.TotalRecords = s.Read
	}
	r.SuccessfulRecords = s.Loaded
	r.RejectedRecords = s.Rejected
	r.DiscardedRecords = s.Discarded
	r.Rejections = append(r.Rejections, s.Rejections...)
	for _, e := range s.Errors {
		r.AddError(e)
	}
	for _, rej := range s.Rejections {
		r.AddError("record " + strconv.Itoa(rej.Record) + ": " + rej.Message)
	}
	if s.Discarded > 0 {
		r.AddWarning(strconv.FormatInt(s.Discarded, 10) + " rows discarded by WHEN clauses")
	}
}
