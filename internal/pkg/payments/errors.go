package payments

import (
	"errors"
	"fmt"
)

// Verification failure codes. The two cases get different HTTP responses:
// a bad signature must not be retried by the provider, an unresolvable
// account might resolve once the parent record arrives.
const (
	VerificationCodeInvalidSignature    = "invalid_signature"
	VerificationCodeUnresolvableAccount = "unresolvable_account"
)

// ErrProviderUnavailable marks a failed or timed-out status lookup against a
// provider API. Callers must answer with a retryable status instead of
// guessing a payment state.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// VerificationError rejects a webhook before any state is touched.
type VerificationError struct {
	Code    string
	Message string
	Err     error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

func newSignatureError(msg string) *VerificationError {
	return &VerificationError{Code: VerificationCodeInvalidSignature, Message: msg}
}

func newUnresolvableAccountError(msg string, err error) *VerificationError {
	return &VerificationError{Code: VerificationCodeUnresolvableAccount, Message: msg, Err: err}
}

// AsVerificationError unwraps err into a VerificationError if possible.
func AsVerificationError(err error) (*VerificationError, bool) {
	var ve *VerificationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
