// Package fault defines the engine's error taxonomy. Every failure surfaced to
// a caller carries a stable machine-readable code and a kind that maps onto a
// transport status; internal storage detail never leaks outside the transient
// and partial-failure diagnostics.
package fault

import "fmt"

type Kind string

const (
	KindValidation       Kind = "validation"
	KindAuthorization    Kind = "authorization"
	KindStateConflict    Kind = "state_conflict"
	KindNotFound         Kind = "not_found"
	KindTransientStorage Kind = "transient_storage"
	KindPartialFailure   Kind = "partial_failure"
)

// Stable machine-readable codes.
const (
	CodeInvalidInput        = "invalid_input"
	CodeInvalidTimestamp    = "invalid_timestamp"
	CodeInvalidDistribution = "invalid_distribution"
	CodeProofValidation     = "proof_validation_failed"
	CodeMissingReason       = "missing_reason"
	CodeInvalidRejectOption = "invalid_reject_option"

	CodeNotCreator  = "not_creator"
	CodeNotClaimer  = "not_claimer"
	CodeNotEligible = "not_eligible"

	CodeWrongState     = "wrong_state"
	CodeAlreadyClaimed = "already_claimed"
	CodeNoFreeSlot     = "no_free_slot"
	CodeOutsideWindow  = "outside_registration_window"
	CodeNoProofOnFile  = "no_proof_on_file"

	CodeSlotNotFound  = "slot_not_found"
	CodeGroupNotFound = "group_not_found"

	CodeStorageUnavailable = "storage_unavailable"
	CodePartialFailure     = "partial_failure"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, code string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(code, format string, args ...any) *Error {
	return New(KindValidation, code, format, args...)
}

func Authorization(code, format string, args ...any) *Error {
	return New(KindAuthorization, code, format, args...)
}

func Conflict(code, format string, args ...any) *Error {
	return New(KindStateConflict, code, format, args...)
}

func NotFound(code, format string, args ...any) *Error {
	return New(KindNotFound, code, format, args...)
}

// Storage wraps a storage-layer failure as retryable for the caller.
func Storage(err error) *Error {
	return Wrap(KindTransientStorage, CodeStorageUnavailable, err, "storage unavailable")
}

// Partial marks an operation whose first write was acknowledged but whose
// trailing write failed; the applied write is never reverted.
func Partial(err error, format string, args ...any) *Error {
	return Wrap(KindPartialFailure, CodePartialFailure, err, format, args...)
}
