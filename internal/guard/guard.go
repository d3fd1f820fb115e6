// Package guard holds in-process concurrency guards: the named job locks the
// scheduler takes for the duration of a job, and the sliding-window rate
// limiter applied to slip placement.
package guard

// Result reports a guard decision.
type Result struct {
	Allowed bool
	Reason  string
	Guard   string
}
