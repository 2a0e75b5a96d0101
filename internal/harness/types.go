package harness

// Trace event types.
const (
	EventStep   = "step"
	EventNotify = "notify"
)

// TraceEvent is one entry of a scenario trace.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"`

	// Step is the 1-based step number of a step event.
	Step int    `json:"step,omitempty"`
	As   string `json:"as,omitempty"`
	Op   string `json:"op,omitempty"`

	// View is the target view of a step, or the changed view of a
	// notification.
	View string `json:"view,omitempty"`

	// Error is the error code a step failed with.
	Error string `json:"error,omitempty"`

	// Version is the committed change version after a step.
	Version int `json:"version,omitempty"`

	Result any `json:"result,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause matched.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors holds one message per failed expectation.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}}
}

// AddError records a failed expectation.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}
