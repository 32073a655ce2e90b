package x402

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// PaymentRequirementsSelector picks which of the client-supported
// requirements to pay. It is only called with a non-empty slice.
type PaymentRequirementsSelector func(supported []PaymentRequirements) PaymentRequirements

// SelectFirst is the default selector.
func SelectFirst(supported []PaymentRequirements) PaymentRequirements {
	return supported[0]
}

// Client consumes 402 responses: it filters offered requirements down to
// its registered scheme capabilities, selects one, and produces the signed
// payment payload.
type Client struct {
	mu         sync.RWMutex
	logger     *slog.Logger
	schemes    *SchemeRegistry[SchemeNetworkClient]
	selector   PaymentRequirementsSelector
	extensions []ClientExtension
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPaymentRequirementsSelector overrides the default first-supported
// selection strategy.
func WithPaymentRequirementsSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *Client) {
		c.selector = selector
	}
}

// WithClientLogger sets the logger for extension warnings.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClientExtension registers client extensions in order.
func WithClientExtension(exts ...ClientExtension) ClientOption {
	return func(c *Client) {
		c.extensions = append(c.extensions, exts...)
	}
}

// NewClient builds a Client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		logger:   slog.Default(),
		schemes:  NewSchemeRegistry[SchemeNetworkClient](),
		selector: SelectFirst,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a scheme client for the current protocol version on the
// given network or network pattern.
func (c *Client) Register(network Network, handler SchemeNetworkClient) error {
	return c.schemes.RegisterCurrent(network, handler.Scheme(), handler)
}

// RegisterV1 adds a scheme client for the legacy V1 wire format.
func (c *Client) RegisterV1(network Network, handler SchemeNetworkClient) error {
	return c.schemes.RegisterV1(network, handler.Scheme(), handler)
}

// RegisterExtension adds a client extension. Returns the client for
// chaining.
func (c *Client) RegisterExtension(ext ClientExtension) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extensions = append(c.extensions, ext)
	return c
}

// SelectPaymentRequirements filters offered down to requirements whose
// (scheme, network) has a registered handler for version, then defers to
// the configured selector. When nothing survives the filter, the error
// lists what the client can actually pay so server operators can see the
// capability gap.
func (c *Client) SelectPaymentRequirements(version int, offered []PaymentRequirements) (PaymentRequirements, error) {
	var supported []PaymentRequirements
	for _, req := range offered {
		if _, err := c.schemes.Lookup(version, req.Scheme, req.Network); err == nil {
			supported = append(supported, req)
		}
	}
	if len(supported) == 0 {
		return PaymentRequirements{}, c.unsupportedError(version, offered)
	}
	return c.selector(supported), nil
}

// unsupportedError describes the mismatch between what was offered and what
// is registered.
func (c *Client) unsupportedError(version int, offered []PaymentRequirements) error {
	entries := c.schemes.Entries()

	versionSet := make(map[int]bool)
	networkSet := make(map[string]bool)
	schemeSet := make(map[string]bool)
	for _, e := range entries {
		versionSet[e.Version] = true
		networkSet[string(e.Network)] = true
		schemeSet[e.Scheme] = true
	}

	offeredPairs := make([]string, 0, len(offered))
	for _, req := range offered {
		offeredPairs = append(offeredPairs, fmt.Sprintf("%s on %s", req.Scheme, req.Network))
	}

	return NewPaymentError(ErrCodeUnsupportedScheme,
		fmt.Sprintf("none of the offered payment requirements are supported: offered [%s], registered versions %v, networks %v, schemes %v",
			joinSorted(offeredPairs), sortedInts(versionSet), sortedKeys(networkSet), sortedKeys(schemeSet))).
		WithDetails(map[string]any{
			"x402Version":        version,
			"offered":            offeredPairs,
			"registeredVersions": sortedInts(versionSet),
			"registeredNetworks": sortedKeys(networkSet),
			"registeredSchemes":  sortedKeys(schemeSet),
		})
}

// CreatePaymentPayload builds the payload for one selected requirement:
// the scheme client produces the signed blob, the client wraps it with
// version-appropriate context, copies the server's extension declarations,
// and runs matching client extensions.
func (c *Client) CreatePaymentPayload(ctx context.Context, version int, requirements PaymentRequirements, required *PaymentRequired) (PaymentPayload, error) {
	handler, err := c.schemes.Lookup(version, requirements.Scheme, requirements.Network)
	if err != nil {
		return PaymentPayload{}, err
	}

	partial, err := handler.CreatePaymentPayload(ctx, version, requirements)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("create %q payload: %w", requirements.Scheme, err)
	}

	payload := PaymentPayload{
		X402Version: version,
		Payload:     partial.Payload,
		Extensions:  partial.Extensions,
	}
	if version == ProtocolVersionV1 {
		payload.Scheme = requirements.Scheme
		payload.Network = requirements.Network
	} else {
		accepted := requirements
		payload.Accepted = &accepted
		if required != nil {
			payload.Resource = required.Resource
		}
	}

	if required != nil && len(required.Extensions) > 0 {
		if payload.Extensions == nil {
			payload.Extensions = make(map[string]any, len(required.Extensions))
		}
		for key, decl := range required.Extensions {
			if _, exists := payload.Extensions[key]; !exists {
				payload.Extensions[key] = decl
			}
		}
		payload = c.runClientExtensions(ctx, payload, *required)
	}

	return payload, nil
}

// runClientExtensions invokes extensions whose key the server declared.
// Enrichment is best-effort and must preserve every core field; a violating
// or failing extension is logged and its output discarded.
func (c *Client) runClientExtensions(ctx context.Context, payload PaymentPayload, required PaymentRequired) PaymentPayload {
	c.mu.RLock()
	exts := make([]ClientExtension, len(c.extensions))
	copy(exts, c.extensions)
	c.mu.RUnlock()

	for _, ext := range exts {
		if _, declared := required.Extensions[ext.Key()]; !declared {
			continue
		}
		enriched, err := ext.EnrichPaymentPayload(ctx, payload, required)
		if err != nil {
			c.logger.Warn("client extension enrichment failed",
				"extension", ext.Key(), "error", err)
			continue
		}
		if !corePayloadFieldsPreserved(payload, enriched) {
			c.logger.Warn("client extension modified core payload fields, discarding",
				"extension", ext.Key())
			continue
		}
		payload = enriched
	}
	return payload
}

// corePayloadFieldsPreserved checks the base-contract invariant: an
// extension may only write under extensions[key].
func corePayloadFieldsPreserved(before, after PaymentPayload) bool {
	return before.X402Version == after.X402Version &&
		DeepEqual(before.Resource, after.Resource) &&
		DeepEqual(before.Accepted, after.Accepted) &&
		DeepEqual(before.Payload, after.Payload) &&
		before.Scheme == after.Scheme &&
		before.Network == after.Network
}

// CreatePaymentForRequired selects and pays in one step, the common path
// when handling a 402.
func (c *Client) CreatePaymentForRequired(ctx context.Context, required PaymentRequired) (PaymentPayload, error) {
	selected, err := c.SelectPaymentRequirements(required.X402Version, required.Accepts)
	if err != nil {
		return PaymentPayload{}, err
	}
	return c.CreatePaymentPayload(ctx, required.X402Version, selected, &required)
}

// Decline builds the explicit refusal a client sends instead of a payload.
func (c *Client) Decline(required PaymentRequired, trace *IntentTrace) PaymentDecline {
	return PaymentDecline{
		X402Version: required.X402Version,
		Decline:     true,
		Resource:    required.Resource,
		IntentTrace: trace,
	}
}

func joinSorted(items []string) string {
	sorted := make([]string, len(items))
	copy(sorted, items)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedInts(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
