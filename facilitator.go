package x402

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// facilitatorRegistration remembers one Register call in order, so
// BuildSupported can advertise kinds deterministically and expand pattern
// networks against a concrete list.
type facilitatorRegistration struct {
	version  int
	networks []Network
	handler  SchemeNetworkFacilitator
}

// Facilitator verifies and settles payments in-process through registered
// SchemeNetworkFacilitator handlers. It carries the same six lifecycle hook
// points as the ResourceServer, with the same abort and recovery semantics.
type Facilitator struct {
	mu            sync.RWMutex
	logger        *slog.Logger
	registry      *SchemeRegistry[SchemeNetworkFacilitator]
	registrations []facilitatorRegistration
	extensions    []string
	hooks         hookSet
}

// FacilitatorOption configures a Facilitator.
type FacilitatorOption func(*Facilitator)

// WithFacilitatorLogger sets the logger for hook warnings.
func WithFacilitatorLogger(logger *slog.Logger) FacilitatorOption {
	return func(f *Facilitator) {
		f.logger = logger
	}
}

// NewFacilitator builds an empty facilitator.
func NewFacilitator(opts ...FacilitatorOption) *Facilitator {
	f := &Facilitator{
		logger:   slog.Default(),
		registry: NewSchemeRegistry[SchemeNetworkFacilitator](),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register adds a scheme handler for the current protocol version on the
// given networks. Networks may be concrete or single-wildcard patterns;
// patterns are expanded by BuildSupported against a concrete network list.
func (f *Facilitator) Register(networks []Network, handler SchemeNetworkFacilitator) error {
	return f.register(ProtocolVersion, networks, handler)
}

// RegisterV1 adds a scheme handler for the legacy V1 wire format.
func (f *Facilitator) RegisterV1(networks []Network, handler SchemeNetworkFacilitator) error {
	return f.register(ProtocolVersionV1, networks, handler)
}

func (f *Facilitator) register(version int, networks []Network, handler SchemeNetworkFacilitator) error {
	if len(networks) == 0 {
		return fmt.Errorf("at least one network required for scheme %q", handler.Scheme())
	}
	for _, network := range networks {
		if err := f.registry.Register(version, network, handler.Scheme(), handler); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations = append(f.registrations, facilitatorRegistration{
		version:  version,
		networks: networks,
		handler:  handler,
	})
	return nil
}

// RegisterExtension adds a key to the extensions advertised by
// BuildSupported. Duplicates are ignored. Returns the facilitator for
// chaining.
func (f *Facilitator) RegisterExtension(key string) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.extensions {
		if existing == key {
			return f
		}
	}
	f.extensions = append(f.extensions, key)
	return f
}

// Chainable hook registration, mirroring the ResourceServer.

func (f *Facilitator) OnBeforeVerify(hook BeforeVerifyHook) *Facilitator {
	f.hooks.addBeforeVerify(hook)
	return f
}

func (f *Facilitator) OnAfterVerify(hook AfterVerifyHook) *Facilitator {
	f.hooks.addAfterVerify(hook)
	return f
}

func (f *Facilitator) OnVerifyFailure(hook VerifyFailureHook) *Facilitator {
	f.hooks.addVerifyFailure(hook)
	return f
}

func (f *Facilitator) OnBeforeSettle(hook BeforeSettleHook) *Facilitator {
	f.hooks.addBeforeSettle(hook)
	return f
}

func (f *Facilitator) OnAfterSettle(hook AfterSettleHook) *Facilitator {
	f.hooks.addAfterSettle(hook)
	return f
}

func (f *Facilitator) OnSettleFailure(hook SettleFailureHook) *Facilitator {
	f.hooks.addSettleFailure(hook)
	return f
}

// Verify dispatches to the handler registered for the payload's
// (version, scheme, network) and runs the verification hook chain.
func (f *Facilitator) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	vc := VerifyContext{Payload: payload, Requirements: requirements, Timestamp: time.Now()}

	abort, err := f.hooks.runBeforeVerify(ctx, vc)
	if err != nil {
		return VerifyResponse{}, fmt.Errorf("before-verify hook: %w", err)
	}
	if abort != nil {
		return VerifyResponse{
			IsValid:       false,
			InvalidReason: abort.Reason,
			IntentTrace:   abort.IntentTrace,
		}, nil
	}

	handler, err := f.registry.Lookup(payload.X402Version, requirements.Scheme, requirements.Network)
	if err != nil {
		err = NewVerifyError(ErrCodeUnsupportedScheme, "", err)
		if recovered := f.hooks.runVerifyFailure(ctx, vc, err, f.logger); recovered != nil {
			return *recovered, nil
		}
		return VerifyResponse{}, err
	}

	result, err := handler.Verify(ctx, payload, requirements)
	if err != nil {
		if recovered := f.hooks.runVerifyFailure(ctx, vc, err, f.logger); recovered != nil {
			return *recovered, nil
		}
		return VerifyResponse{}, err
	}

	f.hooks.runAfterVerify(ctx, vc, result, f.logger)
	return result, nil
}

// Settle dispatches to the registered handler and runs the settlement hook
// chain. A before-hook abort raises ErrSettlementAborted.
func (f *Facilitator) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	sc := SettleContext{Payload: payload, Requirements: requirements, Timestamp: time.Now()}

	abort, err := f.hooks.runBeforeSettle(ctx, sc)
	if err != nil {
		return SettleResponse{}, fmt.Errorf("before-settle hook: %w", err)
	}
	if abort != nil {
		return SettleResponse{}, fmt.Errorf("%w: %s", ErrSettlementAborted, abort.Reason)
	}

	handler, err := f.registry.Lookup(payload.X402Version, requirements.Scheme, requirements.Network)
	if err != nil {
		err = NewSettleError(ErrCodeUnsupportedScheme, requirements.Network, err)
		if recovered := f.hooks.runSettleFailure(ctx, sc, err, f.logger); recovered != nil {
			return *recovered, nil
		}
		return SettleResponse{}, err
	}

	result, err := handler.Settle(ctx, payload, requirements)
	if err != nil {
		if recovered := f.hooks.runSettleFailure(ctx, sc, err, f.logger); recovered != nil {
			return *recovered, nil
		}
		return SettleResponse{}, err
	}

	f.hooks.runAfterSettle(ctx, sc, result, f.logger)
	return result, nil
}

// BuildSupported assembles the /supported response. Registrations are
// walked in order; pattern networks expand into every matching network from
// concreteNetworks, concrete networks advertise directly. Duplicate
// (version, scheme, network) triples keep the first registration. Each
// kind's extra comes from the handler when it implements
// SupportedExtraProvider.
func (f *Facilitator) BuildSupported(concreteNetworks ...Network) SupportedResponse {
	f.mu.RLock()
	registrations := make([]facilitatorRegistration, len(f.registrations))
	copy(registrations, f.registrations)
	extensions := make([]string, len(f.extensions))
	copy(extensions, f.extensions)
	f.mu.RUnlock()

	seen := make(map[string]bool)
	var kinds []SupportedKind

	add := func(version int, scheme string, network Network, handler SchemeNetworkFacilitator) {
		key := fmt.Sprintf("%d|%s|%s", version, scheme, network)
		if seen[key] {
			return
		}
		seen[key] = true
		kind := SupportedKind{X402Version: version, Scheme: scheme, Network: network}
		if provider, ok := handler.(SupportedExtraProvider); ok {
			kind.Extra = provider.GetExtra(network)
		}
		kinds = append(kinds, kind)
	}

	for _, reg := range registrations {
		for _, network := range reg.networks {
			if network.IsPattern() {
				for _, concrete := range concreteNetworks {
					if network.Match(concrete) {
						add(reg.version, reg.handler.Scheme(), concrete, reg.handler)
					}
				}
			} else {
				add(reg.version, reg.handler.Scheme(), network, reg.handler)
			}
		}
	}

	return SupportedResponse{Kinds: kinds, Extensions: extensions}
}

// LocalFacilitatorClient adapts an in-process Facilitator to the
// FacilitatorClient interface a ResourceServer consumes. The network list
// is used to expand wildcard registrations in GetSupported.
type LocalFacilitatorClient struct {
	facilitator *Facilitator
	networks    []Network
}

// NewLocalFacilitatorClient wraps a facilitator for in-process use.
func NewLocalFacilitatorClient(facilitator *Facilitator, networks ...Network) *LocalFacilitatorClient {
	return &LocalFacilitatorClient{facilitator: facilitator, networks: networks}
}

func (c *LocalFacilitatorClient) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	return c.facilitator.Verify(ctx, payload, requirements)
}

func (c *LocalFacilitatorClient) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	return c.facilitator.Settle(ctx, payload, requirements)
}

func (c *LocalFacilitatorClient) GetSupported(ctx context.Context) (SupportedResponse, error) {
	return c.facilitator.BuildSupported(c.networks...), nil
}
