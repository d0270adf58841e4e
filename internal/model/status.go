package model

// SweepStatus is the verification outcome for one cataloged backup.
type SweepStatus string

const (
	SweepOK      SweepStatus = "OK"
	SweepInvalid SweepStatus = "INVALID"
	SweepMissing SweepStatus = "MISSING"
)

// SweepResult pairs a record with its re-verification outcome.
type SweepResult struct {
	Record Record      `json:"record"`
	Status SweepStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// SweepSummary counts sweep outcomes.
type SweepSummary struct {
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
	Missing int `json:"missing"`
}

// Summarize tallies results by status.
func Summarize(results []SweepResult) SweepSummary {
	var s SweepSummary
	for _, r := range results {
		switch r.Status {
		case SweepOK:
			s.Valid++
		case SweepInvalid:
			s.Invalid++
		case SweepMissing:
			s.Missing++
		}
	}
	return s
}

// Healthy reports whether no record was invalid or missing.
func (s SweepSummary) Healthy() bool { return s.Invalid == 0 && s.Missing == 0 }
