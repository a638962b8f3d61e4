package harness

import "fmt"

// FailurePolicy decides what a failed external call does to the run.
// Soft timeouts are never failures and are not affected.
type FailurePolicy string

const (
	// PolicyAbort ends the run with a *FatalError. The incomplete iteration is not recorded.
	PolicyAbort FailurePolicy = "abort"
	// PolicyTolerate logs the failure and continues the iteration.
	PolicyTolerate FailurePolicy = "tolerate"
)

// ParseFailurePolicy parses a policy name. An empty name selects PolicyAbort.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", PolicyAbort:
		return PolicyAbort, nil
	case PolicyTolerate:
		return PolicyTolerate, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (want %q or %q)", s, PolicyAbort, PolicyTolerate)
	}
}
