package executor

import "github.com/randalmurphal/mend/internal/ledger"

// Result classifies an execution.
type Result string

const (
	Success Result = "success"
	Failure Result = "failure"
	// NoOp means the generated change matched the current files exactly.
	NoOp Result = "no-op"
)

// Outcome reports what one execution did.
type Outcome struct {
	Result   Result
	Reason   string
	ItemID   string
	Title    string
	Category ledger.Category
	// Files lists every path written and kept, including repairs made by
	// the validation gate.
	Files []string
}

// Succeeded reports whether the item was completed.
func (o Outcome) Succeeded() bool {
	return o.Result == Success
}
