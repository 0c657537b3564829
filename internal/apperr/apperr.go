// Package apperr defines the error kinds shared by the auth and messaging services.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a coarse error class used for status mapping
type Code string

const (
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeNotFound           Code = "NOT_FOUND"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"
	CodeInternal           Code = "INTERNAL"
)

// AppError is a classified error. Kind identifies the specific failure;
// two AppErrors match under errors.Is when their kinds are equal.
type AppError struct {
	Code    Code
	Kind    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on Kind so wrapped copies compare equal to the sentinels
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// With returns a copy of e carrying cause
func (e *AppError) With(cause error) *AppError {
	c := *e
	c.Cause = cause
	return &c
}

// Withf returns a copy of e with a more specific message
func (e *AppError) Withf(format string, args ...any) *AppError {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

func newErr(code Code, kind, msg string) *AppError {
	return &AppError{Code: code, Kind: kind, Message: msg}
}

// Authentication failures. Callers over the wire see a single generic message.
var (
	ErrChallengeNotFound    = newErr(CodeUnauthenticated, "challenge_not_found", "challenge not found")
	ErrChallengeExpired     = newErr(CodeUnauthenticated, "challenge_expired", "challenge expired")
	ErrChallengeAlreadyUsed = newErr(CodeUnauthenticated, "challenge_already_used", "challenge already used")
	ErrInvalidSignature     = newErr(CodeUnauthenticated, "invalid_signature", "invalid signature")
	ErrAddressMismatch      = newErr(CodeUnauthenticated, "address_mismatch", "public key does not match wallet address")
	ErrInvalidCredentials   = newErr(CodeUnauthenticated, "invalid_credentials", "invalid credentials")
	ErrUnauthenticated      = newErr(CodeUnauthenticated, "unauthenticated", "unauthenticated")
)

// Account binding failures
var (
	ErrWalletAlreadyLinked        = newErr(CodeAlreadyExists, "wallet_already_linked", "wallet is linked to another account")
	ErrAccountAlreadyHasWallet    = newErr(CodeAlreadyExists, "account_already_has_wallet", "account already has a different wallet")
	ErrCannotRemoveOnlyAuthMethod = newErr(CodeFailedPrecondition, "cannot_remove_only_auth_method", "cannot remove the only sign-in method")
	ErrEmailTaken                 = newErr(CodeAlreadyExists, "email_taken", "email already registered")
)

// Messaging failures
var (
	ErrRecipientKeyUnavailable     = newErr(CodeFailedPrecondition, "recipient_key_unavailable", "recipient has not published an encryption key")
	ErrSenderKeyUnavailable        = newErr(CodeFailedPrecondition, "sender_key_unavailable", "sender has not published an encryption key")
	ErrDecryptAuthenticationFailed = newErr(CodeInvalidArgument, "decrypt_authentication_failed", "message failed authentication")
)

// Generic failures
var (
	ErrForbidden       = newErr(CodePermissionDenied, "forbidden", "forbidden")
	ErrNotFound        = newErr(CodeNotFound, "not_found", "not found")
	ErrInvalidArgument = newErr(CodeInvalidArgument, "invalid_argument", "invalid argument")
)

// IsAuthFailure reports whether err is one of the challenge/signature failures
// that must be collapsed into a single generic response.
func IsAuthFailure(err error) bool {
	for _, s := range []*AppError{
		ErrChallengeNotFound, ErrChallengeExpired, ErrChallengeAlreadyUsed,
		ErrInvalidSignature, ErrAddressMismatch, ErrInvalidCredentials,
	} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

// KindOf returns the kind of the first AppError in err's chain, or "internal"
func KindOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return "internal"
}

// HTTPStatus maps err to a response status code
func HTTPStatus(err error) int {
	var ae *AppError
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError
	}
	switch ae.Code {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeFailedPrecondition:
		return http.StatusConflict
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show a caller. Auth failures and
// wallet binding conflicts are deliberately indistinguishable.
func PublicMessage(err error) string {
	if IsAuthFailure(err) {
		return "authentication failed"
	}
	if errors.Is(err, ErrWalletAlreadyLinked) || errors.Is(err, ErrAccountAlreadyHasWallet) {
		return "unable to link wallet"
	}
	var ae *AppError
	if errors.As(err, &ae) && ae.Code != CodeInternal {
		return ae.Message
	}
	return "internal error"
}
