package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/x402-foundation/x402-go"
)

// ResourceService adapts a ResourceServer to HTTP: it matches guarded
// routes, drives the 402 handshake, and turns protocol outcomes into
// concrete response instructions a framework shim can write.
type ResourceService struct {
	core    *x402.ResourceServer
	config  RoutesConfig
	routes  []*compiledRoute
	paywall PaywallProvider
	logger  *slog.Logger
}

// ResourceServiceOption configures a ResourceService.
type ResourceServiceOption func(*ResourceService)

// WithPaywallProvider overrides the default HTML paywall.
func WithPaywallProvider(provider PaywallProvider) ResourceServiceOption {
	return func(s *ResourceService) {
		s.paywall = provider
	}
}

// WithServiceLogger sets the logger for warnings.
func WithServiceLogger(logger *slog.Logger) ResourceServiceOption {
	return func(s *ResourceService) {
		s.logger = logger
	}
}

// NewResourceService wraps a protocol core with a route table. Initialize
// must run before the service processes requests.
func NewResourceService(core *x402.ResourceServer, routes RoutesConfig, opts ...ResourceServiceOption) *ResourceService {
	s := &ResourceService{
		core:    core,
		config:  routes,
		paywall: DefaultPaywall,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RouteInfo is the transport context handed to extension declaration
// enrichment: where in the HTTP surface the declaration lives.
type RouteInfo struct {
	Method      string
	Path        string
	Description string
	MimeType    string
}

// TransportMethod lets transport-agnostic extensions read the HTTP method
// without importing this package.
func (r RouteInfo) TransportMethod() string { return r.Method }

// Initialize compiles the route table, initializes the protocol core, and
// validates that every payment option is servable. Configuration problems
// are aggregated into a single ConfigError. Declarative extension schemas
// are validated too; a mismatch only logs a warning.
func (s *ResourceService) Initialize(ctx context.Context) error {
	compiled, err := compileRoutes(s.config)
	if err != nil {
		return err
	}

	if err := s.core.Initialize(ctx); err != nil {
		return err
	}

	var configs []x402.ResourceConfig
	for _, route := range compiled {
		for _, opt := range route.options {
			configs = append(configs, x402.ResourceConfig{
				Scheme:  opt.option.Scheme,
				Network: opt.option.Network,
			})
		}
	}
	if err := s.core.ValidateResourceConfigs(configs); err != nil {
		return err
	}

	for _, route := range compiled {
		if len(route.declarations) == 0 {
			continue
		}
		route.declarations = s.core.EnrichDeclarations(route.declarations, RouteInfo{
			Method:      route.method,
			Path:        route.pattern,
			Description: route.config.Description,
			MimeType:    route.config.MimeType,
		})
		s.validateDeclarationSchemas(route)
	}

	s.routes = compiled
	return nil
}

// validateDeclarationSchemas checks declarations that embed a JSON schema
// ("schema" + "info" keys) against that schema. Mismatches are warnings:
// a bad declaration must not take the route down.
func (s *ResourceService) validateDeclarationSchemas(route *compiledRoute) {
	for key, decl := range route.declarations {
		declMap, ok := decl.(map[string]any)
		if !ok {
			continue
		}
		schema, hasSchema := declMap["schema"]
		info, hasInfo := declMap["info"]
		if !hasSchema || !hasInfo {
			continue
		}
		schemaJSON, err := json.Marshal(schema)
		if err != nil {
			continue
		}
		infoJSON, err := json.Marshal(info)
		if err != nil {
			continue
		}
		result, err := gojsonschema.Validate(
			gojsonschema.NewBytesLoader(schemaJSON),
			gojsonschema.NewBytesLoader(infoJSON),
		)
		if err != nil {
			s.logger.Warn("extension declaration schema validation failed",
				"route", route.pattern, "extension", key, "error", err)
			continue
		}
		if !result.Valid() {
			for _, desc := range result.Errors() {
				s.logger.Warn("extension declaration does not match its schema",
					"route", route.pattern, "extension", key,
					"field", desc.Context().String(), "problem", desc.Description())
			}
		}
	}
}

// ResponseInstructions tells the transport shim exactly what to write.
type ResponseInstructions struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	IsHTML     bool
}

// ResultKind discriminates ProcessRequest outcomes.
type ResultKind int

const (
	// ResultNoPaymentRequired: the request does not hit a guarded route.
	ResultNoPaymentRequired ResultKind = iota
	// ResultPaymentError: respond with the attached instructions (402 or 400).
	ResultPaymentError
	// ResultPaymentVerified: dispatch the protected handler, then settle.
	ResultPaymentVerified
	// ResultPaymentDeclined: the client explicitly refused to pay.
	ResultPaymentDeclined
)

// RequestResult is the outcome of ProcessRequest.
type RequestResult struct {
	Kind         ResultKind
	Response     *ResponseInstructions
	Payload      *x402.PaymentPayload
	Requirements *x402.PaymentRequirements
	Declarations map[string]any
	Decline      *x402.PaymentDecline
}

// ProcessRequest drives the handshake for one request. A malformed payment
// header is a 400, a missing or mismatched payment a 402, a verified
// payment hands control back to the caller for delivery and settlement.
func (s *ResourceService) ProcessRequest(ctx context.Context, rc RequestContext) (*RequestResult, error) {
	route := matchRoute(s.routes, rc.Method(), rc.Path())
	if route == nil {
		return &RequestResult{Kind: ResultNoPaymentRequired}, nil
	}

	mimeType := route.config.MimeType
	if mimeType == "" {
		mimeType = "application/json"
	}
	resource := &x402.ResourceInfo{
		URL:         rc.URL(),
		Description: route.config.Description,
		MimeType:    mimeType,
	}

	var requirements []x402.PaymentRequirements
	for _, opt := range route.options {
		cfg, err := opt.resourceConfig(rc)
		if err != nil {
			return nil, fmt.Errorf("resolve payment option for %q: %w", route.pattern, err)
		}
		built, err := s.core.BuildPaymentRequirements(ctx, cfg)
		if err != nil {
			return nil, err
		}
		requirements = append(requirements, built...)
	}

	header := rc.Header(HeaderPaymentSignature)
	if header == "" {
		header = rc.Header(HeaderPaymentV1)
	}
	if header == "" {
		return s.paymentRequiredResult(ctx, rc, route, requirements, resource, "")
	}

	payload, decline, err := DecodePaymentSignatureHeader(header)
	if err != nil {
		body, _ := json.Marshal(map[string]any{
			"x402Version": x402.ProtocolVersion,
			"error":       err.Error(),
		})
		return &RequestResult{
			Kind: ResultPaymentError,
			Response: &ResponseInstructions{
				StatusCode: 400,
				Headers:    map[string]string{"Content-Type": "application/json"},
				Body:       body,
			},
		}, nil
	}
	if decline != nil {
		return &RequestResult{Kind: ResultPaymentDeclined, Decline: decline}, nil
	}

	matched, err := s.core.FindMatchingRequirements(requirements, *payload)
	if err != nil {
		return s.paymentRequiredResult(ctx, rc, route, requirements, resource,
			"No matching payment requirements found")
	}

	verification, err := s.core.VerifyPayment(ctx, *payload, *matched)
	if err != nil {
		return nil, err
	}
	verification = s.core.EnrichVerifyResponse(verification, *payload, *matched, route.declarations)

	if !verification.IsValid {
		return s.paymentRequiredResult(ctx, rc, route, requirements, resource,
			verification.InvalidReason)
	}

	return &RequestResult{
		Kind:         ResultPaymentVerified,
		Payload:      payload,
		Requirements: matched,
		Declarations: route.declarations,
	}, nil
}

// paymentRequiredResult builds the 402: the V2 PAYMENT-REQUIRED header, a
// V1-compatible JSON body (or the paywall for browsers), and the optional
// signed offer header.
func (s *ResourceService) paymentRequiredResult(ctx context.Context, rc RequestContext, route *compiledRoute, requirements []x402.PaymentRequirements, resource *x402.ResourceInfo, errorMsg string) (*RequestResult, error) {
	required := s.core.CreatePaymentRequiredResponse(requirements, resource, errorMsg, route.declarations)

	headerValue, err := EncodePaymentRequiredHeader(required)
	if err != nil {
		return nil, fmt.Errorf("encode payment required header: %w", err)
	}
	headers := map[string]string{HeaderPaymentRequired: headerValue}

	if signers := s.core.OfferReceiptSigners(); signers != nil && signers.OfferSigner != nil {
		offer, err := signers.OfferSigner.SignOffer(ctx, resource.URL, requirements)
		if err != nil {
			s.logger.Warn("offer signing failed", "resource", resource.URL, "error", err)
		} else {
			headers[HeaderPaymentOffer] = offer
		}
	}

	instructions := &ResponseInstructions{StatusCode: 402, Headers: headers}

	if isWebBrowser(rc) {
		html := route.config.CustomPaywallHTML
		if html == "" {
			html = s.paywall(required)
		}
		headers["Content-Type"] = "text/html"
		instructions.Body = []byte(html)
		instructions.IsHTML = true
	} else {
		headers["Content-Type"] = "application/json"
		body, err := json.Marshal(v1CompatibleBody(required, resource))
		if err != nil {
			return nil, fmt.Errorf("encode 402 body: %w", err)
		}
		instructions.Body = body
	}

	return &RequestResult{Kind: ResultPaymentError, Response: instructions}, nil
}

// v1CompatibleBody shapes the 402 JSON body the way V1 clients expect,
// while the header carries the V2 form.
func v1CompatibleBody(required x402.PaymentRequired, resource *x402.ResourceInfo) map[string]any {
	accepts := make([]x402.PaymentRequirements, len(required.Accepts))
	for i, req := range required.Accepts {
		v1 := req
		if v1.MaxAmountRequired == "" {
			v1.MaxAmountRequired = req.Amount
		}
		if resource != nil {
			v1.Resource = resource.URL
			v1.Description = resource.Description
			v1.MimeType = resource.MimeType
		}
		accepts[i] = v1
	}
	body := map[string]any{
		"x402Version": x402.ProtocolVersionV1,
		"accepts":     accepts,
	}
	if required.Error != "" {
		body["error"] = required.Error
	}
	return body
}

// SettlementResult carries the headers the shim must attach to the
// delivered response.
type SettlementResult struct {
	Headers  map[string]string
	Response x402.SettleResponse
}

// ProcessSettlement settles a verified payment after delivery and encodes
// the confirmation header. A failed settlement still produces the header:
// the service was rendered, the response reports what happened. Settlement
// enrichment and receipt signing are best-effort.
func (s *ResourceService) ProcessSettlement(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements, declarations map[string]any) (*SettlementResult, error) {
	result, err := s.core.SettlePayment(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	result = s.core.EnrichSettleResponse(result, payload, requirements, declarations)

	headerValue, err := EncodeSettlementHeader(result)
	if err != nil {
		return nil, fmt.Errorf("encode settlement header: %w", err)
	}
	headerName := HeaderPaymentResponse
	if payload.X402Version == x402.ProtocolVersionV1 {
		headerName = HeaderPaymentResponseV1
	}
	headers := map[string]string{headerName: headerValue}

	if signers := s.core.OfferReceiptSigners(); signers != nil && signers.ReceiptSigner != nil && result.Success {
		url := ""
		if payload.Resource != nil {
			url = payload.Resource.URL
		}
		receipt, err := signers.ReceiptSigner.SignReceipt(ctx, url, result.Payer)
		if err != nil {
			s.logger.Warn("receipt signing failed", "resource", url, "error", err)
		} else {
			headers[HeaderPaymentReceipt] = receipt
		}
	}

	return &SettlementResult{Headers: headers, Response: result}, nil
}
