package services

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrorKind groups error codes by the way callers should react to them
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindCapacity   ErrorKind = "capacity"
	KindConflict   ErrorKind = "conflict"
	KindTemporal   ErrorKind = "temporal"
	KindRateLimit  ErrorKind = "rate_limit"
	KindNotFound   ErrorKind = "not_found"
)

// Code is a machine-readable error code
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	CodeNoEmails         Code = "NO_EMAILS"
	CodeInvalidEmail     Code = "INVALID_EMAIL"
	CodeTeamNameTooShort Code = "TEAM_NAME_TOO_SHORT"
	CodeInvalidAction    Code = "INVALID_ACTION"
	CodeInvalidStatus    Code = "INVALID_STATUS"
	CodeIdentityRequired Code = "IDENTITY_REQUIRED"

	CodeNoSeatsAvailable Code = "NO_SEATS_AVAILABLE"
	CodeTeamSizeExceeded Code = "TEAM_SIZE_EXCEEDED"
	CodeTeamFull         Code = "TEAM_FULL"

	CodeAlreadyRegistered      Code = "ALREADY_REGISTERED"
	CodeAlreadyInvited         Code = "ALREADY_INVITED"
	CodeDuplicateInvitee       Code = "DUPLICATE_INVITEE"
	CodeAlreadyResponded       Code = "ALREADY_RESPONDED"
	CodeRegistrationNotPending Code = "REGISTRATION_NOT_PENDING"
	CodeInvitationsPending     Code = "INVITATIONS_PENDING"
	CodeNoAcceptedMembers      Code = "NO_ACCEPTED_MEMBERS"
	CodeSubmissionExists       Code = "SUBMISSION_EXISTS"
	CodePaymentRequired        Code = "PAYMENT_REQUIRED"
	CodeNotTeamRegistration    Code = "NOT_TEAM_REGISTRATION"

	CodeExpired            Code = "EXPIRED"
	CodeRegistrationClosed Code = "REGISTRATION_CLOSED"
	CodeCompetitionStarted Code = "COMPETITION_STARTED"

	CodeDailyLimitExceeded Code = "DAILY_LIMIT_EXCEEDED"

	CodeInvalidToken         Code = "INVALID_TOKEN"
	CodeRegistrationNotFound Code = "REGISTRATION_NOT_FOUND"
	CodeCompetitionNotFound  Code = "COMPETITION_NOT_FOUND"
)

// Error is a coordinator failure returned to callers as a typed result
type Error struct {
	Kind     ErrorKind
	Code     Code
	Message  string
	Metadata map[string]string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches on the code so errors.Is works against the sentinel values below
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// With returns a copy of e carrying an extra metadata entry
func (e *Error) With(key string, value interface{}) *Error {
	md := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		md[k] = v
	}
	switch v := value.(type) {
	case string:
		md[key] = v
	case int:
		md[key] = strconv.Itoa(v)
	case int64:
		md[key] = strconv.FormatInt(v, 10)
	default:
		md[key] = fmt.Sprint(v)
	}
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Metadata: md}
}

// Withf returns a copy of e with a more specific message
func (e *Error) Withf(format string, args ...interface{}) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...), Metadata: e.Metadata}
}

func newError(kind ErrorKind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrNoEmails         = newError(KindValidation, CodeNoEmails, "at least one invitee email is required")
	ErrInvalidEmail     = newError(KindValidation, CodeInvalidEmail, "invalid email address")
	ErrTeamNameTooShort = newError(KindValidation, CodeTeamNameTooShort, "team name must be at least 3 characters")
	ErrInvalidAction    = newError(KindValidation, CodeInvalidAction, "action must be accept or reject")
	ErrInvalidStatus    = newError(KindValidation, CodeInvalidStatus, "invalid registration status")
	ErrIdentityRequired = newError(KindValidation, CodeIdentityRequired, "accepting an invitation requires a signed in user")

	ErrNoSeatsAvailable = newError(KindCapacity, CodeNoSeatsAvailable, "no seats available for this competition")
	ErrTeamSizeExceeded = newError(KindCapacity, CodeTeamSizeExceeded, "team size would exceed the competition maximum")
	ErrTeamFull         = newError(KindCapacity, CodeTeamFull, "team is already full")

	ErrAlreadyRegistered      = newError(KindConflict, CodeAlreadyRegistered, "user is already registered for this competition")
	ErrAlreadyInvited         = newError(KindConflict, CodeAlreadyInvited, "email already has an open invitation for this team")
	ErrDuplicateInvitee       = newError(KindConflict, CodeDuplicateInvitee, "the same email appears more than once")
	ErrAlreadyResponded       = newError(KindConflict, CodeAlreadyResponded, "invitation has already been answered")
	ErrRegistrationNotPending = newError(KindConflict, CodeRegistrationNotPending, "registration is not pending")
	ErrInvitationsPending     = newError(KindConflict, CodeInvitationsPending, "registration still has pending invitations")
	ErrNoAcceptedMembers      = newError(KindConflict, CodeNoAcceptedMembers, "no invitee accepted the invitation")
	ErrSubmissionExists       = newError(KindConflict, CodeSubmissionExists, "a submission already exists for this registration")
	ErrPaymentRequired        = newError(KindConflict, CodePaymentRequired, "payment has not been completed")
	ErrNotTeamRegistration    = newError(KindConflict, CodeNotTeamRegistration, "registration is not a team registration")

	ErrExpired            = newError(KindTemporal, CodeExpired, "invitation has expired")
	ErrRegistrationClosed = newError(KindTemporal, CodeRegistrationClosed, "registration is closed for this competition")
	ErrCompetitionStarted = newError(KindTemporal, CodeCompetitionStarted, "competition has already started")

	ErrDailyLimitExceeded = newError(KindRateLimit, CodeDailyLimitExceeded, "daily invitation limit exceeded")

	ErrInvalidToken         = newError(KindNotFound, CodeInvalidToken, "invitation not found")
	ErrRegistrationNotFound = newError(KindNotFound, CodeRegistrationNotFound, "registration not found")
	ErrCompetitionNotFound  = newError(KindNotFound, CodeCompetitionNotFound, "competition not found")
)

// CodeOf extracts the code of a coordinator error, CodeUnknown otherwise
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// KindOf extracts the kind of a coordinator error, empty otherwise
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// notFoundAs maps a storage miss to the given coordinator error and wraps anything else
func notFoundAs(err error, sentinel *Error, op string) error {
	if errors.Is(err, ErrRecordNotFound) {
		return sentinel
	}
	return fmt.Errorf("%s: %w", op, err)
}
