package x402

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// directoryEntry is one (version, network, scheme) triple in the facilitator
// directory: the advertised kind, the facilitator's extension list, and the
// client that advertised it.
type directoryEntry struct {
	kind       SupportedKind
	extensions []string
	client     FacilitatorClient
}

// ResourceServer guards resources: it emits 402 requirements, verifies paid
// requests through a facilitator, and settles after delivery.
//
// Registration (schemes, extensions, hooks) is expected before Initialize;
// the facilitator directory built there is read-only until Initialize runs
// again, at which point it is swapped atomically.
type ResourceServer struct {
	mu                 sync.RWMutex
	logger             *slog.Logger
	schemes            *SchemeRegistry[SchemeNetworkServer]
	facilitatorClients []FacilitatorClient
	extensions         []ResourceServerExtension
	hooks              hookSet
	offerReceipt       *OfferReceiptConfig
	directory          *SchemeRegistry[directoryEntry]
}

// ResourceServerOption configures a ResourceServer.
type ResourceServerOption func(*ResourceServer)

// WithFacilitatorClient adds facilitator clients. Order matters: when
// several advertise the same kind, the earliest wins.
func WithFacilitatorClient(clients ...FacilitatorClient) ResourceServerOption {
	return func(s *ResourceServer) {
		s.facilitatorClients = append(s.facilitatorClients, clients...)
	}
}

// WithLogger sets the logger used for warnings from hooks, extensions, and
// facilitator initialization.
func WithLogger(logger *slog.Logger) ResourceServerOption {
	return func(s *ResourceServer) {
		s.logger = logger
	}
}

// WithOfferReceiptConfig enables offer/receipt signing. Transport adapters
// read the config through OfferReceiptSigners.
func WithOfferReceiptConfig(cfg OfferReceiptConfig) ResourceServerOption {
	return func(s *ResourceServer) {
		s.offerReceipt = &cfg
	}
}

// WithServerExtension registers server extensions in order.
func WithServerExtension(exts ...ResourceServerExtension) ResourceServerOption {
	return func(s *ResourceServer) {
		s.extensions = append(s.extensions, exts...)
	}
}

// Hook options, equivalent to the On* registration methods.

func WithBeforeVerifyHook(hook BeforeVerifyHook) ResourceServerOption {
	return func(s *ResourceServer) { s.hooks.addBeforeVerify(hook) }
}

func WithAfterVerifyHook(hook AfterVerifyHook) ResourceServerOption {
	return func(s *ResourceServer) { s.hooks.addAfterVerify(hook) }
}

func WithVerifyFailureHook(hook VerifyFailureHook) ResourceServerOption {
	return func(s *ResourceServer) { s.hooks.addVerifyFailure(hook) }
}

func WithBeforeSettleHook(hook BeforeSettleHook) ResourceServerOption {
	return func(s *ResourceServer) { s.hooks.addBeforeSettle(hook) }
}

func WithAfterSettleHook(hook AfterSettleHook) ResourceServerOption {
	return func(s *ResourceServer) { s.hooks.addAfterSettle(hook) }
}

func WithSettleFailureHook(hook SettleFailureHook) ResourceServerOption {
	return func(s *ResourceServer) { s.hooks.addSettleFailure(hook) }
}

// NewResourceServer builds a ResourceServer. At least one facilitator
// client must be configured before Initialize.
func NewResourceServer(opts ...ResourceServerOption) *ResourceServer {
	s := &ResourceServer{
		logger:    slog.Default(),
		schemes:   NewSchemeRegistry[SchemeNetworkServer](),
		directory: NewSchemeRegistry[directoryEntry](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a scheme handler for the current protocol version on the
// given network or network pattern.
func (s *ResourceServer) Register(network Network, handler SchemeNetworkServer) error {
	return s.schemes.RegisterCurrent(network, handler.Scheme(), handler)
}

// RegisterV1 adds a scheme handler for the legacy V1 wire format.
func (s *ResourceServer) RegisterV1(network Network, handler SchemeNetworkServer) error {
	return s.schemes.RegisterV1(network, handler.Scheme(), handler)
}

// RegisterExtension adds a server extension. Returns the server for
// chaining.
func (s *ResourceServer) RegisterExtension(ext ResourceServerExtension) *ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extensions = append(s.extensions, ext)
	return s
}

// Chainable hook registration.

func (s *ResourceServer) OnBeforeVerify(hook BeforeVerifyHook) *ResourceServer {
	s.hooks.addBeforeVerify(hook)
	return s
}

func (s *ResourceServer) OnAfterVerify(hook AfterVerifyHook) *ResourceServer {
	s.hooks.addAfterVerify(hook)
	return s
}

func (s *ResourceServer) OnVerifyFailure(hook VerifyFailureHook) *ResourceServer {
	s.hooks.addVerifyFailure(hook)
	return s
}

func (s *ResourceServer) OnBeforeSettle(hook BeforeSettleHook) *ResourceServer {
	s.hooks.addBeforeSettle(hook)
	return s
}

func (s *ResourceServer) OnAfterSettle(hook AfterSettleHook) *ResourceServer {
	s.hooks.addAfterSettle(hook)
	return s
}

func (s *ResourceServer) OnSettleFailure(hook SettleFailureHook) *ResourceServer {
	s.hooks.addSettleFailure(hook)
	return s
}

// OfferReceiptSigners exposes the configured offer/receipt signers to
// transport adapters. Nil when signing is not configured.
func (s *ResourceServer) OfferReceiptSigners() *OfferReceiptConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offerReceipt
}

// Initialize queries every configured facilitator for its supported kinds
// and builds the facilitator directory. Clients are processed in
// configuration order so earlier clients win on duplicate kinds. A failing
// GetSupported logs a warning and is skipped; Initialize fails only when no
// facilitator responds at all.
//
// The directory is swapped atomically, so Initialize may be called again on
// a serving instance to pick up facilitator changes.
func (s *ResourceServer) Initialize(ctx context.Context) error {
	s.mu.RLock()
	clients := make([]FacilitatorClient, len(s.facilitatorClients))
	copy(clients, s.facilitatorClients)
	s.mu.RUnlock()

	if len(clients) == 0 {
		return fmt.Errorf("no facilitator clients configured")
	}

	directory := NewSchemeRegistry[directoryEntry]()
	succeeded := 0
	for i, client := range clients {
		supported, err := client.GetSupported(ctx)
		if err != nil {
			s.logger.Warn("facilitator getSupported failed, skipping",
				"client", i, "error", err)
			continue
		}
		succeeded++
		for _, kind := range supported.Kinds {
			err := directory.Register(kind.X402Version, kind.Network, kind.Scheme, directoryEntry{
				kind:       kind,
				extensions: supported.Extensions,
				client:     client,
			})
			if err != nil {
				s.logger.Warn("facilitator advertised invalid kind, skipping",
					"client", i, "scheme", kind.Scheme, "network", kind.Network, "error", err)
			}
		}
	}

	if succeeded == 0 {
		return fmt.Errorf("all %d facilitator clients failed getSupported", len(clients))
	}

	s.mu.Lock()
	s.directory = directory
	s.mu.Unlock()
	return nil
}

// ValidateResourceConfigs checks that every payment option has both a local
// scheme handler and a facilitator directory entry. All problems are
// collected into a single ConfigError; nil means the configs are servable.
// Transport adapters call this after Initialize with their route table.
func (s *ResourceServer) ValidateResourceConfigs(configs []ResourceConfig) error {
	s.mu.RLock()
	directory := s.directory
	s.mu.RUnlock()

	var problems []error
	for _, cfg := range configs {
		if _, err := s.schemes.Lookup(ProtocolVersion, cfg.Scheme, cfg.Network); err != nil {
			problems = append(problems, fmt.Errorf(
				"no scheme handler for %q on %q: %w", cfg.Scheme, cfg.Network, err))
		}
		if _, err := directory.Lookup(ProtocolVersion, cfg.Scheme, cfg.Network); err != nil {
			problems = append(problems, fmt.Errorf(
				"no facilitator supports %q on %q: %w", cfg.Scheme, cfg.Network, err))
		}
	}
	return NewConfigError(problems)
}

// BuildPaymentRequirements turns one payment option into concrete wire
// requirements: the scheme handler parses the price, the facilitator
// directory supplies the advertised kind, and the handler enhances the base
// requirements with scheme-specific extra.
//
// An unregistered scheme or unsupported network fails loudly; emitting a
// 402 with an empty accepts list would violate the response schema.
func (s *ResourceServer) BuildPaymentRequirements(ctx context.Context, config ResourceConfig) ([]PaymentRequirements, error) {
	handler, err := s.schemes.Lookup(ProtocolVersion, config.Scheme, config.Network)
	if err != nil {
		return nil, NewPaymentError(ErrCodeUnsupportedScheme,
			fmt.Sprintf("no scheme handler for %q on %q", config.Scheme, config.Network)).
			WithDetails(map[string]any{"scheme": config.Scheme, "network": string(config.Network)})
	}

	s.mu.RLock()
	directory := s.directory
	s.mu.RUnlock()

	entry, err := directory.Lookup(ProtocolVersion, config.Scheme, config.Network)
	if err != nil {
		return nil, NewPaymentError(ErrCodeUnsupportedNetwork,
			fmt.Sprintf("no facilitator supports %q on %q", config.Scheme, config.Network)).
			WithDetails(map[string]any{"scheme": config.Scheme, "network": string(config.Network)})
	}

	assetAmount, err := handler.ParsePrice(config.Price, config.Network)
	if err != nil {
		return nil, fmt.Errorf("parse price for %q on %q: %w", config.Scheme, config.Network, err)
	}

	maxTimeout := config.MaxTimeoutSeconds
	if maxTimeout <= 0 {
		maxTimeout = DefaultMaxTimeoutSeconds
	}

	base := PaymentRequirements{
		Scheme:            config.Scheme,
		Network:           config.Network,
		Asset:             assetAmount.Asset,
		Amount:            assetAmount.Amount,
		PayTo:             config.PayTo,
		MaxTimeoutSeconds: maxTimeout,
		Extra:             assetAmount.Extra,
	}

	enhanced, err := handler.EnhancePaymentRequirements(ctx, base, entry.kind, entry.extensions)
	if err != nil {
		return nil, fmt.Errorf("enhance payment requirements for %q on %q: %w",
			config.Scheme, config.Network, err)
	}

	return []PaymentRequirements{enhanced}, nil
}

// CreatePaymentRequiredResponse assembles the 402 body and runs registered
// payment-required enrichers over the route's extension declarations.
func (s *ResourceServer) CreatePaymentRequiredResponse(requirements []PaymentRequirements, resource *ResourceInfo, errorMsg string, declarations map[string]any) PaymentRequired {
	response := PaymentRequired{
		X402Version: ProtocolVersion,
		Resource:    resource,
		Accepts:     requirements,
		Error:       errorMsg,
	}
	if len(declarations) > 0 {
		response.Extensions = make(map[string]any, len(declarations))
		for key, decl := range declarations {
			response.Extensions[key] = decl
		}
	}
	return s.enrichPaymentRequired(response, requirements, declarations)
}

// facilitatorFor resolves the client for a payload, falling back to nil
// when nothing in the directory matches.
func (s *ResourceServer) facilitatorFor(payload PaymentPayload) (FacilitatorClient, error) {
	scheme, network := payload.SchemeNetwork()

	s.mu.RLock()
	directory := s.directory
	s.mu.RUnlock()

	entry, err := directory.Lookup(payload.X402Version, scheme, network)
	if err != nil {
		return nil, err
	}
	return entry.client, nil
}

// VerifyPayment routes the payload to the matching facilitator and runs the
// verification hook chain. A before-hook abort returns an isValid:false
// response; a transport failure may be recovered by a failure-hook.
func (s *ResourceServer) VerifyPayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	vc := VerifyContext{Payload: payload, Requirements: requirements, Timestamp: time.Now()}

	abort, err := s.hooks.runBeforeVerify(ctx, vc)
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

	result, err := s.dispatchVerify(ctx, payload, requirements)
	if err != nil {
		if recovered := s.hooks.runVerifyFailure(ctx, vc, err, s.logger); recovered != nil {
			return *recovered, nil
		}
		return VerifyResponse{}, err
	}

	s.hooks.runAfterVerify(ctx, vc, result, s.logger)
	return result, nil
}

// dispatchVerify prefers the directory's registered client, then tries all
// configured clients in order, keeping the last error.
func (s *ResourceServer) dispatchVerify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	if client, err := s.facilitatorFor(payload); err == nil {
		return client.Verify(ctx, payload, requirements)
	}

	s.mu.RLock()
	clients := make([]FacilitatorClient, len(s.facilitatorClients))
	copy(clients, s.facilitatorClients)
	s.mu.RUnlock()

	var lastErr error
	for _, client := range clients {
		result, err := client.Verify(ctx, payload, requirements)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = NewVerifyError(ErrCodeFacilitatorError, "", fmt.Errorf("no facilitator clients configured"))
	}
	return VerifyResponse{}, lastErr
}

// SettlePayment routes the payload to the matching facilitator and runs the
// settlement hook chain. Unlike verification, a before-hook abort is an
// error: an aborted settlement is an operational exception, not a
// business-level decline.
func (s *ResourceServer) SettlePayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	sc := SettleContext{Payload: payload, Requirements: requirements, Timestamp: time.Now()}

	abort, err := s.hooks.runBeforeSettle(ctx, sc)
	if err != nil {
		return SettleResponse{}, fmt.Errorf("before-settle hook: %w", err)
	}
	if abort != nil {
		return SettleResponse{}, fmt.Errorf("%w: %s", ErrSettlementAborted, abort.Reason)
	}

	result, err := s.dispatchSettle(ctx, payload, requirements)
	if err != nil {
		if recovered := s.hooks.runSettleFailure(ctx, sc, err, s.logger); recovered != nil {
			return *recovered, nil
		}
		return SettleResponse{}, err
	}

	s.hooks.runAfterSettle(ctx, sc, result, s.logger)
	return result, nil
}

func (s *ResourceServer) dispatchSettle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	if client, err := s.facilitatorFor(payload); err == nil {
		return client.Settle(ctx, payload, requirements)
	}

	s.mu.RLock()
	clients := make([]FacilitatorClient, len(s.facilitatorClients))
	copy(clients, s.facilitatorClients)
	s.mu.RUnlock()

	var lastErr error
	for _, client := range clients {
		result, err := client.Settle(ctx, payload, requirements)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = NewSettleError(ErrCodeFacilitatorError, requirements.Network,
			fmt.Errorf("no facilitator clients configured"))
	}
	return SettleResponse{}, lastErr
}

// FindMatchingRequirements locates the requirement the payload committed
// to. V2 payloads match their accepted object by deep equality, insensitive
// to JSON property order; V1 payloads match by (scheme, network).
func (s *ResourceServer) FindMatchingRequirements(available []PaymentRequirements, payload PaymentPayload) (*PaymentRequirements, error) {
	if payload.X402Version == ProtocolVersionV1 {
		for i := range available {
			if available[i].Scheme == payload.Scheme && available[i].Network == payload.Network {
				return &available[i], nil
			}
		}
	} else if payload.Accepted != nil {
		for i := range available {
			if DeepEqual(available[i], *payload.Accepted) {
				return &available[i], nil
			}
		}
	}
	return nil, NewPaymentError(ErrCodeNoMatchingPayment, "No matching payment requirements found")
}

// ProcessResult is the outcome of ProcessPaymentRequest. Exactly one of the
// following holds: RequiresPayment with a 402 body, or a verification
// result with the matched requirements.
type ProcessResult struct {
	RequiresPayment     bool
	PaymentRequired     *PaymentRequired
	MatchedRequirements *PaymentRequirements
	VerificationResult  *VerifyResponse
}

// ProcessPaymentRequest orchestrates one guarded request: build the
// requirements, emit 402 when there is no payload or no match, otherwise
// verify and hand back the result for the caller to deliver and settle.
func (s *ResourceServer) ProcessPaymentRequest(ctx context.Context, payload *PaymentPayload, config ResourceConfig, resource *ResourceInfo, declarations map[string]any) (*ProcessResult, error) {
	requirements, err := s.BuildPaymentRequirements(ctx, config)
	if err != nil {
		return nil, err
	}

	if payload == nil {
		response := s.CreatePaymentRequiredResponse(requirements, resource, "", declarations)
		return &ProcessResult{RequiresPayment: true, PaymentRequired: &response}, nil
	}

	matched, err := s.FindMatchingRequirements(requirements, *payload)
	if err != nil {
		response := s.CreatePaymentRequiredResponse(requirements, resource,
			"No matching payment requirements found", declarations)
		return &ProcessResult{RequiresPayment: true, PaymentRequired: &response}, nil
	}

	result, err := s.VerifyPayment(ctx, *payload, *matched)
	if err != nil {
		return nil, err
	}
	result = s.EnrichVerifyResponse(result, *payload, *matched, declarations)

	return &ProcessResult{
		MatchedRequirements: matched,
		VerificationResult:  &result,
	}, nil
}
