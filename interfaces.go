package x402

import "context"

// A payment scheme appears in up to three capability sets, one per role:
// SchemeNetworkServer (parse prices, decorate requirements),
// SchemeNetworkClient (produce signed payloads), and
// SchemeNetworkFacilitator (verify and settle). A scheme implementation
// typically ships all three as separate small types.

// SchemeNetworkClient builds the scheme-specific signed payload for one
// selected requirement.
type SchemeNetworkClient interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, version int, requirements PaymentRequirements) (PartialPaymentPayload, error)
}

// SchemeNetworkServer turns route prices into concrete requirements on the
// resource-server side.
type SchemeNetworkServer interface {
	Scheme() string

	// ParsePrice resolves a route price (money string, decimal string, or
	// AssetAmount) into atomic units of the network's settlement asset.
	ParsePrice(price Price, network Network) (AssetAmount, error)

	// EnhancePaymentRequirements lets the scheme inject details from the
	// facilitator's advertised kind, e.g. an EIP-712 domain, before the
	// requirements go on the wire. facilitatorExtensions is the extension
	// list the selected facilitator advertises.
	EnhancePaymentRequirements(ctx context.Context, requirements PaymentRequirements, kind SupportedKind, facilitatorExtensions []string) (PaymentRequirements, error)
}

// SchemeNetworkFacilitator verifies and settles payments for one scheme.
type SchemeNetworkFacilitator interface {
	Scheme() string
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error)
}

// SupportedExtraProvider is an optional capability of a
// SchemeNetworkFacilitator: per-network extra advertised in the /supported
// response and copied into the matching SupportedKind.
type SupportedExtraProvider interface {
	GetExtra(network Network) map[string]any
}

// FacilitatorClient is how a ResourceServer talks to a facilitator,
// in-process or over HTTP.
type FacilitatorClient interface {
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error)
	GetSupported(ctx context.Context) (SupportedResponse, error)
}

// ResourceServerExtension is a server-side extension identified by a stable
// key. EnrichDeclaration runs once when a route's declarative extension is
// registered; transportContext is adapter-specific (the HTTP adapter passes
// route metadata) and may be nil.
//
// Extensions that also enrich responses implement one or more of the
// optional *Enricher interfaces below; the server detects them by type
// assertion.
type ResourceServerExtension interface {
	Key() string
	EnrichDeclaration(declaration any, transportContext any) (any, error)
}

// PaymentRequiredEnrichment is the context handed to a
// PaymentRequiredEnricher.
type PaymentRequiredEnrichment struct {
	Response     PaymentRequired
	Requirements []PaymentRequirements
}

// PaymentRequiredEnricher augments the 402 response under the extension's
// key. The returned value replaces response.extensions[key]; the rest of
// the response is preserved by the server.
type PaymentRequiredEnricher interface {
	EnrichPaymentRequired(declaration any, enrichment PaymentRequiredEnrichment) (any, error)
}

// VerificationEnrichment is the context handed to a VerificationEnricher.
type VerificationEnrichment struct {
	Payload      PaymentPayload
	Requirements PaymentRequirements
	Result       VerifyResponse
}

// VerificationEnricher augments the verify response under the extension's
// key.
type VerificationEnricher interface {
	EnrichVerification(declaration any, enrichment VerificationEnrichment) (any, error)
}

// SettlementEnrichment is the context handed to a SettlementEnricher.
type SettlementEnrichment struct {
	Payload      PaymentPayload
	Requirements PaymentRequirements
	Result       SettleResponse
}

// SettlementEnricher augments the settle response under the extension's key.
type SettlementEnricher interface {
	EnrichSettlement(declaration any, enrichment SettlementEnrichment) (any, error)
}

// ClientExtension enriches an outgoing payment payload. It runs only when
// its key appears in the server's PaymentRequired extensions; the returned
// payload must preserve every core field, only extensions[key] may change.
type ClientExtension interface {
	Key() string
	EnrichPaymentPayload(ctx context.Context, payload PaymentPayload, required PaymentRequired) (PaymentPayload, error)
}

// OfferReceiptSigner produces detached attestations for 402 offers and
// settled responses. The serialization is opaque to the core: a JWS, an
// EIP-712 bundle, anything the deployment's verifiers understand.
type OfferReceiptSigner interface {
	SignOffer(ctx context.Context, url string, requirements []PaymentRequirements) (string, error)
	SignReceipt(ctx context.Context, url string, payer string) (string, error)
}

// OfferReceiptConfig pairs the signers used for offer and receipt headers.
// Either may be nil to disable that header.
type OfferReceiptConfig struct {
	OfferSigner   OfferReceiptSigner
	ReceiptSigner OfferReceiptSigner
}
