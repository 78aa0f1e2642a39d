package model

// CheckStatus is the outcome of a doctor check.
type CheckStatus string

const (
	CheckStatusOK      CheckStatus = "ok"
	CheckStatusWarning CheckStatus = "warning"
	CheckStatusError   CheckStatus = "error"
)

// CheckResult is the result of a single environment check (transfer engine,
// data directory, database...).
type CheckResult struct {
	ID      string
	Message string
	Status  CheckStatus
}

// CheckResults is a set of check results.
type CheckResults []CheckResult

// HasErrors returns true if any check failed.
func (c CheckResults) HasErrors() bool { return c.count(CheckStatusError) > 0 }

// Summary returns the number of results per status.
func (c CheckResults) Summary() (ok, warnings, errors int) {
	return c.count(CheckStatusOK), c.count(CheckStatusWarning), c.count(CheckStatusError)
}

func (c CheckResults) count(s CheckStatus) int {
	n := 0
	for _, r := range c {
		if r.Status == s {
			n++
		}
	}
	return n
}
