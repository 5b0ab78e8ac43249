package rbac

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies expected business-rule failures. Infrastructure failures
// (connection loss, schema corruption) are never wrapped in *Error; they
// propagate as plain errors. Either way a caller must treat any non-nil
// error as a denial; the engine never defaults to allow.
type Kind string

const (
	KindValidation Kind = "validation"
	KindPolicy     Kind = "policy"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
)

// Stable error codes, one per business rule.
const (
	CodeUnknownPermission   = "unknown_permission"
	CodeUnknownRole         = "unknown_role"
	CodeMalformedTier       = "malformed_tier"
	CodeFirmContextRequired = "firm_context_required"
	CodeTierRestricted      = "tier_restricted"
	CodeHierarchyViolation  = "hierarchy_violation"
	CodeCrossFirmAccess     = "cross_firm_access"
	CodeDuplicateRoleCode   = "duplicate_role_code"
	CodeSystemRoleImmutable = "system_role_immutable"
	CodeRoleInUse           = "role_in_use"
	CodeRoleNotFound        = "role_not_found"
	CodeAssignmentNotFound  = "assignment_not_found"
	CodeOverrideNotFound    = "override_not_found"
	CodeInvalidRequest      = "invalid_request"
)

// Error carries the uniform failure envelope for expected business-rule
// violations: a kind, a stable code, a human message and the offending
// values (permission codes, role codes) in Details.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details []string
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("rbac: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("rbac: %s: %s (%s)", e.Code, e.Message, strings.Join(e.Details, ", "))
}

// Is matches two *Error values by code so sentinels compare with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

func newError(kind Kind, code, message string, details ...string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Details: details}
}

// AsError unwraps err into the business-rule envelope, if it is one.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsKind reports whether err is a business-rule failure of the given kind.
func IsKind(err error, kind Kind) bool {
	if e, ok := AsError(err); ok {
		return e.Kind == kind
	}
	return false
}

// HasCode reports whether err carries the given stable error code.
func HasCode(err error, code string) bool {
	if e, ok := AsError(err); ok {
		return e.Code == code
	}
	return false
}
