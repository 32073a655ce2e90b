package x402

import "fmt"

// Reason codes for intent traces. The taxonomy is fixed; anything that does
// not fit maps to ReasonOther.
const (
	ReasonInsufficientFunds    = "insufficient_funds"
	ReasonSignatureInvalid     = "signature_invalid"
	ReasonSignatureExpired     = "signature_expired"
	ReasonSignatureNotYetValid = "signature_not_yet_valid"
	ReasonAmountMismatch       = "amount_mismatch"
	ReasonRecipientMismatch    = "recipient_mismatch"
	ReasonNetworkMismatch      = "network_mismatch"
	ReasonAssetMismatch        = "asset_mismatch"
	ReasonNonceAlreadyUsed     = "nonce_already_used"
	ReasonTransactionReverted  = "transaction_reverted"
	ReasonTransactionTimeout   = "transaction_timeout"
	ReasonSmartWalletError     = "smart_wallet_error"
	ReasonUndeployedWallet     = "undeployed_wallet"
	ReasonFacilitatorError     = "facilitator_error"
	ReasonOther                = "other"
)

// Remediation actions suggested by intent trace constructors.
const (
	RemediationTopUp          = "top_up"
	RemediationReSign         = "re_sign"
	RemediationWait           = "wait"
	RemediationUseRecipient   = "use_recipient"
	RemediationUseAmount      = "use_amount"
	RemediationUseNetwork     = "use_network"
	RemediationUseAsset       = "use_asset"
	RemediationRetry          = "retry"
	RemediationDeployWallet   = "deploy_wallet"
	RemediationContactSupport = "contact_support"
)

// maxTraceSummaryLength caps trace_summary on the wire.
const maxTraceSummaryLength = 500

// IntentTrace is a structured failure explanation carried by decline, verify,
// and settle responses: a fixed reason code, a short human summary, flat
// scalar metadata, and an optional suggested remediation.
type IntentTrace struct {
	ReasonCode   string         `json:"reason_code"`
	TraceSummary string         `json:"trace_summary,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Remediation  *Remediation   `json:"remediation,omitempty"`
}

// Remediation suggests what the payer can do about a failure. Only the
// fields relevant to the action are set.
type Remediation struct {
	Action      string  `json:"action"`
	Reason      string  `json:"reason,omitempty"`
	Shortfall   string  `json:"shortfall,omitempty"`
	WaitSeconds int64   `json:"waitSeconds,omitempty"`
	Recipient   string  `json:"recipient,omitempty"`
	Amount      string  `json:"amount,omitempty"`
	Network     Network `json:"network,omitempty"`
	Asset       string  `json:"asset,omitempty"`
}

// NewIntentTrace builds a trace with the summary truncated to the wire cap.
func NewIntentTrace(reasonCode, summary string) *IntentTrace {
	return &IntentTrace{ReasonCode: reasonCode, TraceSummary: truncateSummary(summary)}
}

// WithMetadata attaches flat metadata and returns the trace for chaining.
func (t *IntentTrace) WithMetadata(metadata map[string]any) *IntentTrace {
	t.Metadata = metadata
	return t
}

func truncateSummary(s string) string {
	if len(s) <= maxTraceSummaryLength {
		return s
	}
	return s[:maxTraceSummaryLength]
}

// NewInsufficientFundsTrace reports a balance shortfall in atomic units of
// the required asset.
func NewInsufficientFundsTrace(required, available, asset string) *IntentTrace {
	shortfall := ""
	if required != "" && available != "" {
		shortfall = fmt.Sprintf("%s-%s", required, available)
	}
	t := NewIntentTrace(ReasonInsufficientFunds,
		fmt.Sprintf("payer balance %s below required %s %s", available, required, asset))
	t.Metadata = map[string]any{"required": required, "available": available, "asset": asset}
	t.Remediation = &Remediation{
		Action:    RemediationTopUp,
		Reason:    "payer balance does not cover the required amount",
		Shortfall: shortfall,
		Asset:     asset,
	}
	return t
}

// NewSignatureInvalidTrace reports an unverifiable payment signature.
func NewSignatureInvalidTrace(detail string) *IntentTrace {
	t := NewIntentTrace(ReasonSignatureInvalid, detail)
	t.Remediation = &Remediation{
		Action: RemediationReSign,
		Reason: "the payment signature could not be verified",
	}
	return t
}

// NewSignatureExpiredTrace reports an authorization whose validity window
// has passed.
func NewSignatureExpiredTrace(expiredAt int64) *IntentTrace {
	t := NewIntentTrace(ReasonSignatureExpired, "payment authorization expired")
	t.Metadata = map[string]any{"expiredAt": expiredAt}
	t.Remediation = &Remediation{
		Action: RemediationReSign,
		Reason: "the authorization validity window has passed",
	}
	return t
}

// NewSignatureNotYetValidTrace reports an authorization that is not valid
// yet; waitSeconds is how long until it becomes usable.
func NewSignatureNotYetValidTrace(waitSeconds int64) *IntentTrace {
	t := NewIntentTrace(ReasonSignatureNotYetValid, "payment authorization not yet valid")
	t.Remediation = &Remediation{
		Action:      RemediationWait,
		Reason:      "the authorization validity window has not started",
		WaitSeconds: waitSeconds,
	}
	return t
}

// NewAmountMismatchTrace reports a payload authorizing a different amount
// than required.
func NewAmountMismatchTrace(expected, actual string) *IntentTrace {
	t := NewIntentTrace(ReasonAmountMismatch,
		fmt.Sprintf("authorized amount %s does not match required %s", actual, expected))
	t.Metadata = map[string]any{"expected": expected, "actual": actual}
	t.Remediation = &Remediation{
		Action: RemediationUseAmount,
		Amount: expected,
	}
	return t
}

// NewRecipientMismatchTrace reports a payload paying the wrong recipient.
func NewRecipientMismatchTrace(expected, actual string) *IntentTrace {
	t := NewIntentTrace(ReasonRecipientMismatch,
		fmt.Sprintf("payment recipient %s does not match required %s", actual, expected))
	t.Metadata = map[string]any{"expected": expected, "actual": actual}
	t.Remediation = &Remediation{
		Action:    RemediationUseRecipient,
		Recipient: expected,
	}
	return t
}

// NewNetworkMismatchTrace reports a payload signed for the wrong network.
func NewNetworkMismatchTrace(expected, actual Network) *IntentTrace {
	t := NewIntentTrace(ReasonNetworkMismatch,
		fmt.Sprintf("payment network %s does not match required %s", actual, expected))
	t.Metadata = map[string]any{"expected": string(expected), "actual": string(actual)}
	t.Remediation = &Remediation{
		Action:  RemediationUseNetwork,
		Network: expected,
	}
	return t
}

// NewAssetMismatchTrace reports a payload paying with the wrong asset.
func NewAssetMismatchTrace(expected, actual string) *IntentTrace {
	t := NewIntentTrace(ReasonAssetMismatch,
		fmt.Sprintf("payment asset %s does not match required %s", actual, expected))
	t.Metadata = map[string]any{"expected": expected, "actual": actual}
	t.Remediation = &Remediation{
		Action: RemediationUseAsset,
		Asset:  expected,
	}
	return t
}

// NewNonceAlreadyUsedTrace reports a replayed authorization.
func NewNonceAlreadyUsedTrace() *IntentTrace {
	t := NewIntentTrace(ReasonNonceAlreadyUsed, "authorization nonce already used")
	t.Remediation = &Remediation{
		Action: RemediationReSign,
		Reason: "a fresh authorization with a new nonce is required",
	}
	return t
}

// NewTransactionRevertedTrace reports an on-chain settlement revert.
func NewTransactionRevertedTrace(transaction, detail string) *IntentTrace {
	t := NewIntentTrace(ReasonTransactionReverted, detail)
	t.Metadata = map[string]any{"transaction": transaction}
	t.Remediation = &Remediation{
		Action: RemediationRetry,
		Reason: "the settlement transaction reverted",
	}
	return t
}

// NewTransactionTimeoutTrace reports a settlement that did not confirm in
// time; waitSeconds is the suggested backoff before retrying.
func NewTransactionTimeoutTrace(waitSeconds int64) *IntentTrace {
	t := NewIntentTrace(ReasonTransactionTimeout, "settlement transaction not confirmed in time")
	t.Remediation = &Remediation{
		Action:      RemediationWait,
		Reason:      "the transaction may still confirm",
		WaitSeconds: waitSeconds,
	}
	return t
}

// NewSmartWalletErrorTrace reports a smart wallet rejecting the operation.
func NewSmartWalletErrorTrace(detail string) *IntentTrace {
	t := NewIntentTrace(ReasonSmartWalletError, detail)
	t.Remediation = &Remediation{
		Action: RemediationContactSupport,
		Reason: "the payer's smart wallet rejected the operation",
	}
	return t
}

// NewUndeployedWalletTrace reports a payer wallet with no code on chain.
func NewUndeployedWalletTrace(address string) *IntentTrace {
	t := NewIntentTrace(ReasonUndeployedWallet,
		fmt.Sprintf("payer wallet %s is not deployed", address))
	t.Metadata = map[string]any{"address": address}
	t.Remediation = &Remediation{
		Action: RemediationDeployWallet,
		Reason: "the payer wallet must be deployed before it can pay",
	}
	return t
}

// NewFacilitatorErrorTrace reports an internal facilitator failure.
func NewFacilitatorErrorTrace(detail string) *IntentTrace {
	t := NewIntentTrace(ReasonFacilitatorError, detail)
	t.Remediation = &Remediation{
		Action: RemediationRetry,
		Reason: "the facilitator failed internally; the payment itself was not judged",
	}
	return t
}

// NewOtherTrace reports a failure outside the fixed taxonomy.
func NewOtherTrace(summary string) *IntentTrace {
	return NewIntentTrace(ReasonOther, summary)
}
