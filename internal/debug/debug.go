// Package debug provides an assertion helper for internal invariants.
// Built without the moqdebug tag, a failed assertion returns an Internal
// error instead of panicking — the core must not panic on any input,
// including bugs in the core itself (spec §9).
package debug

// Assert checks an internal invariant. When built with -tags moqdebug it
// panics on failure so tests catch violations immediately; otherwise it
// returns an *moqerr.Error with code Internal so production builds degrade
// to a typed error instead of crashing the session.
func Assert(cond bool, msg string) error {
	if cond {
		return nil
	}
	return assertFailed(msg)
}
