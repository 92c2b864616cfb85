/*
result.go - Outcome collection for fan-out recomputation

PURPOSE:
  A recompute trigger fans out across independent scopes; one scope's
  failure never blocks the others. All outcomes are collected and, if any
  failed, surfaced as a single aggregate error carrying the counts and
  every failure message. The caller (the draw-evaluation or payment flow)
  decides whether its own operation proceeds with a warning or rolls back.
*/
package reconcile

import (
	"fmt"
	"strings"

	"github.com/warp/statement-engine/ledger"
)

// Outcome is one scope's recompute result.
type Outcome struct {
	Scope ledger.Scope
	Err   error
}

// Result aggregates every scope's outcome for one trigger.
type Result struct {
	Succeeded int
	Failed    int
	Failures  []string
}

func collect(outcomes []Outcome) Result {
	var r Result
	for _, o := range outcomes {
		if o.Err != nil {
			r.Failed++
			r.Failures = append(r.Failures, fmt.Sprintf("%s: %v", o.Scope, o.Err))
		} else {
			r.Succeeded++
		}
	}
	return r
}

// Err returns nil when everything succeeded, otherwise a *PartialFailureError.
func (r Result) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return &PartialFailureError{
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
		Failures:  r.Failures,
	}
}

// PartialFailureError reports that recomputation completed for some scopes
// and failed for others. It is an aggregate: no failure is silently
// swallowed, none is individually fatal to the trigger.
type PartialFailureError struct {
	Succeeded int
	Failed    int
	Failures  []string
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("recompute partially failed: %d succeeded, %d failed: %s",
		e.Succeeded, e.Failed, strings.Join(e.Failures, "; "))
}
