package harness

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step matched its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Transcript has one line per step plus final balances, in a stable
	// format suitable for golden comparison.
	Transcript []string `json:"transcript"`

	// Errors contains mismatch messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Transcript: []string{},
		Errors:     []string{},
	}
}

// AddError adds a mismatch and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddLine appends a transcript line.
func (r *Result) AddLine(line string) {
	r.Transcript = append(r.Transcript, line)
}
