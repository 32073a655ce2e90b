package x402

import (
	"errors"
	"fmt"
	"strings"
)

// Registry resolution failures. Both are fatal for the operation that hit
// them but never for the process.
var (
	ErrNoVersion         = errors.New("no handlers registered for protocol version")
	ErrNoNetworkOrScheme = errors.New("no handler registered for network and scheme")
)

// ErrSettlementAborted is returned when a before-settle hook aborts the
// settlement. Verification aborts produce an invalid VerifyResponse instead;
// an aborted settlement is an operational exception, not a business decline.
var ErrSettlementAborted = errors.New("settlement aborted by hook")

// Error codes carried by PaymentError.
const (
	ErrCodeInvalidPayment     = "invalid_payment"
	ErrCodeUnsupportedScheme  = "unsupported_scheme"
	ErrCodeUnsupportedNetwork = "unsupported_network"
	ErrCodeVerificationFailed = "verification_failed"
	ErrCodeSettlementFailed   = "settlement_failed"
	ErrCodeNoMatchingPayment  = "no_matching_payment_requirements"
	ErrCodeFacilitatorError   = "facilitator_error"
)

// PaymentError is a protocol-level failure with a stable machine-readable
// code and optional structured details.
type PaymentError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *PaymentError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewPaymentError builds a PaymentError with the given code and message.
func NewPaymentError(code, message string) *PaymentError {
	return &PaymentError{Code: code, Message: message}
}

// WithDetails attaches structured details and returns the error for
// chaining.
func (e *PaymentError) WithDetails(details map[string]any) *PaymentError {
	e.Details = details
	return e
}

// VerifyError is a transport-level verification failure: the facilitator
// call itself failed, as opposed to the payment being judged invalid.
type VerifyError struct {
	Reason string
	Payer  string
	Err    error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verify failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("verify failed (%s)", e.Reason)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// NewVerifyError wraps err as a verification transport failure.
func NewVerifyError(reason, payer string, err error) *VerifyError {
	return &VerifyError{Reason: reason, Payer: payer, Err: err}
}

// SettleError is a transport-level settlement failure.
type SettleError struct {
	Reason      string
	Payer       string
	Network     Network
	Transaction string
	Err         error
}

func (e *SettleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("settle failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("settle failed (%s)", e.Reason)
}

func (e *SettleError) Unwrap() error { return e.Err }

// NewSettleError wraps err as a settlement transport failure.
func NewSettleError(reason string, network Network, err error) *SettleError {
	return &SettleError{Reason: reason, Network: network, Err: err}
}

// ConfigError aggregates every route and registration problem found during
// Initialize, so a misconfigured server reports all of them at once instead
// of one per restart.
type ConfigError struct {
	Problems []error
}

func (e *ConfigError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("invalid configuration: %v", e.Problems[0])
	}
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return fmt.Sprintf("invalid configuration (%d problems): %s",
		len(e.Problems), strings.Join(msgs, "; "))
}

func (e *ConfigError) Unwrap() []error { return e.Problems }

// NewConfigError returns nil when problems is empty, so callers can report
// unconditionally.
func NewConfigError(problems []error) error {
	if len(problems) == 0 {
		return nil
	}
	return &ConfigError{Problems: problems}
}
