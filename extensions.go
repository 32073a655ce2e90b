package x402

// Extension enrichment runners. All enrichment is best-effort and pure with
// respect to the base response: an enricher's return value only ever lands
// under response.extensions[key], and any enricher error is logged and
// swallowed so an extension can never defeat payment processing.

// snapshotExtensions copies the extension list under RLock.
func (s *ResourceServer) snapshotExtensions() []ResourceServerExtension {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exts := make([]ResourceServerExtension, len(s.extensions))
	copy(exts, s.extensions)
	return exts
}

// EnrichDeclarations runs EnrichDeclaration for every registered extension
// whose key appears in declarations. Transport adapters call this once per
// route at registration time; transportContext carries adapter-specific
// route metadata. A failing extension keeps its static declaration.
func (s *ResourceServer) EnrichDeclarations(declarations map[string]any, transportContext any) map[string]any {
	if len(declarations) == 0 {
		return declarations
	}
	out := make(map[string]any, len(declarations))
	for key, decl := range declarations {
		out[key] = decl
	}
	for _, ext := range s.snapshotExtensions() {
		decl, ok := out[ext.Key()]
		if !ok {
			continue
		}
		enriched, err := ext.EnrichDeclaration(decl, transportContext)
		if err != nil {
			s.logger.Warn("extension declaration enrichment failed",
				"extension", ext.Key(), "error", err)
			continue
		}
		out[ext.Key()] = enriched
	}
	return out
}

// enrichPaymentRequired runs PaymentRequiredEnricher extensions over a 402
// response in registration order.
func (s *ResourceServer) enrichPaymentRequired(response PaymentRequired, requirements []PaymentRequirements, declarations map[string]any) PaymentRequired {
	for _, ext := range s.snapshotExtensions() {
		enricher, ok := ext.(PaymentRequiredEnricher)
		if !ok {
			continue
		}
		decl, ok := declarations[ext.Key()]
		if !ok {
			continue
		}
		value, err := enricher.EnrichPaymentRequired(decl, PaymentRequiredEnrichment{
			Response:     response,
			Requirements: requirements,
		})
		if err != nil {
			s.logger.Warn("payment-required enrichment failed",
				"extension", ext.Key(), "error", err)
			continue
		}
		if value == nil {
			continue
		}
		if response.Extensions == nil {
			response.Extensions = make(map[string]any)
		}
		response.Extensions[ext.Key()] = value
	}
	return response
}

// EnrichVerifyResponse runs VerificationEnricher extensions over a verify
// result in registration order.
func (s *ResourceServer) EnrichVerifyResponse(result VerifyResponse, payload PaymentPayload, requirements PaymentRequirements, declarations map[string]any) VerifyResponse {
	for _, ext := range s.snapshotExtensions() {
		enricher, ok := ext.(VerificationEnricher)
		if !ok {
			continue
		}
		decl, ok := declarations[ext.Key()]
		if !ok {
			continue
		}
		value, err := enricher.EnrichVerification(decl, VerificationEnrichment{
			Payload:      payload,
			Requirements: requirements,
			Result:       result,
		})
		if err != nil {
			s.logger.Warn("verification enrichment failed",
				"extension", ext.Key(), "error", err)
			continue
		}
		if value == nil {
			continue
		}
		if result.Extensions == nil {
			result.Extensions = make(map[string]any)
		}
		result.Extensions[ext.Key()] = value
	}
	return result
}

// EnrichSettleResponse runs SettlementEnricher extensions over a settle
// result in registration order.
func (s *ResourceServer) EnrichSettleResponse(result SettleResponse, payload PaymentPayload, requirements PaymentRequirements, declarations map[string]any) SettleResponse {
	for _, ext := range s.snapshotExtensions() {
		enricher, ok := ext.(SettlementEnricher)
		if !ok {
			continue
		}
		decl, ok := declarations[ext.Key()]
		if !ok {
			continue
		}
		value, err := enricher.EnrichSettlement(decl, SettlementEnrichment{
			Payload:      payload,
			Requirements: requirements,
			Result:       result,
		})
		if err != nil {
			s.logger.Warn("settlement enrichment failed",
				"extension", ext.Key(), "error", err)
			continue
		}
		if value == nil {
			continue
		}
		if result.Extensions == nil {
			result.Extensions = make(map[string]any)
		}
		result.Extensions[ext.Key()] = value
	}
	return result
}
