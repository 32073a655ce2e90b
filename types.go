package x402

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Protocol versions understood by this module. ProtocolVersion is the
// current wire format; V1 is kept for backwards compatibility with
// deployed servers that still speak the original header shapes.
const (
	ProtocolVersionV1 = 1
	ProtocolVersion   = 2
)

// DefaultMaxTimeoutSeconds is the payment authorization validity window
// applied when a payment option does not specify one.
const DefaultMaxTimeoutSeconds = 300

// Network is a CAIP-2 identifier ("namespace:reference", e.g. "eip155:8453")
// or a pattern containing a single "*" wildcard (e.g. "eip155:*").
type Network string

var (
	networkRegex        = regexp.MustCompile(`^[a-z0-9-]+:[a-zA-Z0-9-]+$`)
	networkPatternRegex = regexp.MustCompile(`^[a-z0-9*-]+:[a-zA-Z0-9*-]+$`)
)

// Validate reports whether n is a well-formed concrete network identifier.
func (n Network) Validate() error {
	if !networkRegex.MatchString(string(n)) {
		return fmt.Errorf("invalid network %q: must match namespace:reference", n)
	}
	return nil
}

// ValidateAsPattern reports whether n is a well-formed concrete network or a
// pattern with at most one "*".
func (n Network) ValidateAsPattern() error {
	if strings.Count(string(n), ":") != 1 {
		return fmt.Errorf("invalid network %q: must contain exactly one colon", n)
	}
	if strings.Count(string(n), "*") > 1 {
		return fmt.Errorf("invalid network pattern %q: at most one wildcard allowed", n)
	}
	if !networkPatternRegex.MatchString(string(n)) {
		return fmt.Errorf("invalid network %q: must match namespace:reference", n)
	}
	return nil
}

// IsPattern reports whether n contains a wildcard segment.
func (n Network) IsPattern() bool {
	return strings.Contains(string(n), "*")
}

// Namespace returns the CAIP-2 namespace, the part before the colon.
func (n Network) Namespace() string {
	if i := strings.Index(string(n), ":"); i >= 0 {
		return string(n)[:i]
	}
	return string(n)
}

// Match reports whether the concrete network other is covered by n. A
// concrete n matches only itself; a pattern n matches any network its glob
// accepts.
func (n Network) Match(other Network) bool {
	if n == other {
		return true
	}
	if !n.IsPattern() {
		return false
	}
	re, err := compileNetworkPattern(n)
	if err != nil {
		return false
	}
	return re.MatchString(string(other))
}

// compileNetworkPattern turns a single-wildcard glob into an anchored regexp.
func compileNetworkPattern(pattern Network) (*regexp.Regexp, error) {
	if strings.Count(string(pattern), "*") != 1 {
		return nil, fmt.Errorf("network pattern %q must contain exactly one wildcard", pattern)
	}
	parts := strings.SplitN(string(pattern), "*", 2)
	expr := "^" + regexp.QuoteMeta(parts[0]) + ".*" + regexp.QuoteMeta(parts[1]) + "$"
	return regexp.Compile(expr)
}

// Price is what a payment option charges: a money string ("$1.00"), a
// decimal amount string, or an AssetAmount in atomic units. Scheme servers
// interpret it through ParsePrice.
type Price any

// AssetAmount is a fully resolved price: an atomic amount of a specific
// asset plus scheme-specific details such as an EIP-712 domain.
type AssetAmount struct {
	Amount string         `json:"amount"`
	Asset  string         `json:"asset"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// PaymentRequirements describes one acceptable way to pay for a resource.
// It is built per-request and never mutated afterwards.
type PaymentRequirements struct {
	Scheme            string         `json:"scheme"`
	Network           Network        `json:"network"`
	Asset             string         `json:"asset"`
	Amount            string         `json:"amount,omitempty"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`

	// V1 wire fields. V2 carries resource metadata in PaymentRequired and
	// PaymentPayload instead.
	MaxAmountRequired string         `json:"maxAmountRequired,omitempty"`
	Resource          string         `json:"resource,omitempty"`
	Description       string         `json:"description,omitempty"`
	MimeType          string         `json:"mimeType,omitempty"`
	OutputSchema      map[string]any `json:"outputSchema,omitempty"`
}

// Validate checks the invariants every requirement must satisfy before it
// goes on the wire.
func (r PaymentRequirements) Validate() error {
	if r.Scheme == "" {
		return fmt.Errorf("payment requirements missing scheme")
	}
	if err := r.Network.Validate(); err != nil {
		return err
	}
	if r.Asset == "" {
		return fmt.Errorf("payment requirements missing asset")
	}
	if r.Amount == "" && r.MaxAmountRequired == "" {
		return fmt.Errorf("payment requirements missing amount")
	}
	if r.PayTo == "" {
		return fmt.Errorf("payment requirements missing payTo")
	}
	if r.MaxTimeoutSeconds < 0 {
		return fmt.Errorf("payment requirements maxTimeoutSeconds must not be negative")
	}
	return nil
}

// ResourceInfo describes the protected resource a payment is for.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// PaymentRequired is the 402 body (V2) or its V1 JSON equivalent: the set of
// requirements a resource will accept.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Resource    *ResourceInfo         `json:"resource,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Error       string                `json:"error,omitempty"`
	Extensions  map[string]any        `json:"extensions,omitempty"`
}

// PartialPaymentPayload is what a SchemeNetworkClient produces: the
// scheme-specific signed blob, before the client wraps it with resource and
// accepted-requirement context.
type PartialPaymentPayload struct {
	Payload    map[string]any `json:"payload"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// PaymentPayload is the client's signed offer to pay one specific
// requirement. V1 carries scheme/network at the top level; V2 carries the
// full accepted requirement and matches by deep equality.
type PaymentPayload struct {
	X402Version int                  `json:"x402Version"`
	Resource    *ResourceInfo        `json:"resource,omitempty"`
	Accepted    *PaymentRequirements `json:"accepted,omitempty"`
	Payload     map[string]any       `json:"payload"`
	Extensions  map[string]any       `json:"extensions,omitempty"`

	// V1 wire fields.
	Scheme  string  `json:"scheme,omitempty"`
	Network Network `json:"network,omitempty"`
}

// SchemeNetwork returns the (scheme, network) pair the payload targets,
// resolving the version duality.
func (p PaymentPayload) SchemeNetwork() (string, Network) {
	if p.X402Version == ProtocolVersionV1 {
		return p.Scheme, p.Network
	}
	if p.Accepted != nil {
		return p.Accepted.Scheme, p.Accepted.Network
	}
	return "", ""
}

// PaymentDecline is sent by a client that refuses to pay, optionally
// explaining why through an intent trace.
type PaymentDecline struct {
	X402Version int           `json:"x402Version"`
	Decline     bool          `json:"decline"`
	Resource    *ResourceInfo `json:"resource,omitempty"`
	IntentTrace *IntentTrace  `json:"intentTrace,omitempty"`
}

// VerifyResponse is the facilitator's answer to a verification request.
type VerifyResponse struct {
	IsValid       bool           `json:"isValid"`
	InvalidReason string         `json:"invalidReason,omitempty"`
	Payer         string         `json:"payer,omitempty"`
	IntentTrace   *IntentTrace   `json:"intentTrace,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// SettleResponse is the facilitator's answer to a settlement request.
// Transaction is opaque and may be empty on failure.
type SettleResponse struct {
	Success     bool           `json:"success"`
	ErrorReason string         `json:"errorReason,omitempty"`
	Payer       string         `json:"payer,omitempty"`
	Transaction string         `json:"transaction"`
	Network     Network        `json:"network"`
	IntentTrace *IntentTrace   `json:"intentTrace,omitempty"`
	Extensions  map[string]any `json:"extensions,omitempty"`
}

// SupportedKind is one (version, scheme, network) triple a facilitator
// advertises, plus any scheme-specific extra it wants propagated into
// payment requirements.
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     Network        `json:"network"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// SupportedResponse is the facilitator's /supported answer.
type SupportedResponse struct {
	Kinds      []SupportedKind `json:"kinds"`
	Extensions []string        `json:"extensions,omitempty"`
}

// VerifyRequest is the wire body for POST /verify.
type VerifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SettleRequest is the wire body for POST /settle. Same shape as verify.
type SettleRequest = VerifyRequest

// ResourceConfig is one payment option for a protected resource: which
// scheme, on which network, paying whom, how much.
type ResourceConfig struct {
	Scheme            string  `json:"scheme"`
	Network           Network `json:"network"`
	PayTo             string  `json:"payTo"`
	Price             Price   `json:"price"`
	MaxTimeoutSeconds int     `json:"maxTimeoutSeconds,omitempty"`
}

// DeepEqual compares two JSON-representable values structurally, ignoring
// object property order. Used to match a payload's accepted requirement
// against the server's own requirements after both crossed the wire.
func DeepEqual(a, b any) bool {
	na, err := normalizeJSON(a)
	if err != nil {
		return false
	}
	nb, err := normalizeJSON(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

// normalizeJSON reduces a value to the generic map/slice/scalar form JSON
// unmarshalling produces, so two encodings of the same document compare
// equal regardless of field order or source struct type.
func normalizeJSON(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
