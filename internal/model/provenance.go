package model

// Provenance identifies who produced a record and from which source revision.
type Provenance struct {
	Operator string `json:"operator,omitempty"`
	Revision string `json:"revision,omitempty"`
	Branch   string `json:"branch,omitempty"`
}

// Apply copies p onto rec.
func (p Provenance) Apply(rec *Record) {
	rec.Operator = p.Operator
	rec.Revision = p.Revision
	rec.Branch = p.Branch
}
