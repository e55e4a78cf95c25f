package engine

import (
	"fmt"
	"strings"
)

// Report summarises one reload pass.
type Report struct {
	// Added lists modules instantiated for the first time.
	Added []string
	// Reloaded lists modules re-instantiated from their current record.
	Reloaded []string
	// Reused lists modules whose previous cache entry was kept.
	Reused []string
	// Accepted lists modules whose reload hook stopped propagation.
	Accepted []string
	// Failed is set when the pass raised an error and a restore was attempted.
	Failed bool
	// Restored is set when the previous records were reinstated successfully.
	Restored bool
	// Err is the reload or restore failure, if any.
	Err error
	// BuildError carries an upstream build failure. No graph action was taken.
	BuildError string
}

// Changed reports whether any module was instantiated by the pass.
func (r Report) Changed() bool {
	return len(r.Added) > 0 || len(r.Reloaded) > 0
}

// Summary returns a one-line description for logs.
func (r Report) Summary() string {
	if r.BuildError != "" {
		return "build error: " + r.BuildError
	}
	var parts []string
	add := func(label string, ids []string) {
		if len(ids) > 0 {
			parts = append(parts, fmt.Sprintf("%s %s", label, strings.Join(ids, ",")))
		}
	}
	add("added", r.Added)
	add("reloaded", r.Reloaded)
	add("accepted", r.Accepted)
	if len(r.Reused) > 0 {
		parts = append(parts, fmt.Sprintf("reused %d", len(r.Reused)))
	}
	switch {
	case r.Failed && r.Restored:
		parts = append(parts, "restored after: "+r.Err.Error())
	case r.Failed:
		parts = append(parts, "failed: "+r.Err.Error())
	}
	if len(parts) == 0 {
		return "nothing to reload"
	}
	return strings.Join(parts, "; ")
}
