package domain

import "errors"

// Run-fatal errors abort a run before any entry is processed.
var (
	ErrFeedUnavailable = errors.New("feesync: feed unavailable")
	ErrFeedMalformed   = errors.New("feesync: feed malformed")
)

// Encounter-scoped errors are recorded as a failed outcome and the run continues.
var (
	ErrEncounterUnreachable  = errors.New("feesync: encounter unreachable")
	ErrEncounterMalformed    = errors.New("feesync: encounter malformed")
	ErrCustomerNotFound      = errors.New("feesync: customer not found")
	ErrProductNotFound       = errors.New("feesync: product not found")
	ErrOrderSubmissionFailed = errors.New("feesync: order submission failed")
)

// Ledger and coordination errors.
var (
	ErrDuplicateSuccess = errors.New("feesync: encounter already has a success outcome")
	ErrRunInProgress    = errors.New("feesync: another run holds the run lock")
	ErrLockNotHeld      = errors.New("feesync: lock not owned by this holder")
	ErrInvalidInput     = errors.New("feesync: invalid input")
)

// IsRunFatal reports whether err must abort the whole run.
func IsRunFatal(err error) bool {
	return errors.Is(err, ErrFeedUnavailable) || errors.Is(err, ErrFeedMalformed)
}

// IsEncounterScoped reports whether err belongs to a single encounter.
func IsEncounterScoped(err error) bool {
	return errors.Is(err, ErrEncounterUnreachable) ||
		errors.Is(err, ErrEncounterMalformed) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrOrderSubmissionFailed)
}
