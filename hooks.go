package x402

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// VerifyContext is the per-request context handed to verification hooks.
type VerifyContext struct {
	Payload      PaymentPayload
	Requirements PaymentRequirements
	Timestamp    time.Time
}

// SettleContext is the per-request context handed to settlement hooks.
type SettleContext struct {
	Payload      PaymentPayload
	Requirements PaymentRequirements
	Timestamp    time.Time
}

// BeforeHookResult is returned by a before-hook to abort the operation.
// A nil result (or Abort false) lets the operation proceed. Aborting is a
// business-level decision, not cancellation: a verify abort produces an
// isValid:false response, a settle abort raises ErrSettlementAborted.
type BeforeHookResult struct {
	Abort       bool
	Reason      string
	IntentTrace *IntentTrace
}

// VerifyFailureResult is returned by a verify failure-hook to recover from
// a transport failure with a synthesized response.
type VerifyFailureResult struct {
	Recovered bool
	Result    *VerifyResponse
}

// SettleFailureResult is the settlement counterpart of VerifyFailureResult.
type SettleFailureResult struct {
	Recovered bool
	Result    *SettleResponse
}

// Hook signatures. Hooks run in registration order; an error from a
// before-hook fails the operation, errors from after-hooks are logged and
// swallowed, errors from failure-hooks are logged and the next failure-hook
// runs.
type (
	BeforeVerifyHook  func(ctx context.Context, vc VerifyContext) (*BeforeHookResult, error)
	AfterVerifyHook   func(ctx context.Context, vc VerifyContext, result VerifyResponse) error
	VerifyFailureHook func(ctx context.Context, vc VerifyContext, failure error) (*VerifyFailureResult, error)
	BeforeSettleHook  func(ctx context.Context, sc SettleContext) (*BeforeHookResult, error)
	AfterSettleHook   func(ctx context.Context, sc SettleContext, result SettleResponse) error
	SettleFailureHook func(ctx context.Context, sc SettleContext, failure error) (*SettleFailureResult, error)
)

// hookSet holds the six hook lists shared by the resource server and the
// in-process facilitator. Registration is expected before serving; lookups
// snapshot under RLock so a hook never runs while the lists are mutated.
type hookSet struct {
	mu            sync.RWMutex
	beforeVerify  []BeforeVerifyHook
	afterVerify   []AfterVerifyHook
	verifyFailure []VerifyFailureHook
	beforeSettle  []BeforeSettleHook
	afterSettle   []AfterSettleHook
	settleFailure []SettleFailureHook
}

func (h *hookSet) addBeforeVerify(hook BeforeVerifyHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.beforeVerify = append(h.beforeVerify, hook)
}

func (h *hookSet) addAfterVerify(hook AfterVerifyHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.afterVerify = append(h.afterVerify, hook)
}

func (h *hookSet) addVerifyFailure(hook VerifyFailureHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.verifyFailure = append(h.verifyFailure, hook)
}

func (h *hookSet) addBeforeSettle(hook BeforeSettleHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.beforeSettle = append(h.beforeSettle, hook)
}

func (h *hookSet) addAfterSettle(hook AfterSettleHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.afterSettle = append(h.afterSettle, hook)
}

func (h *hookSet) addSettleFailure(hook SettleFailureHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settleFailure = append(h.settleFailure, hook)
}

// runBeforeVerify runs before-verify hooks in order. The first abort stops
// the chain.
func (h *hookSet) runBeforeVerify(ctx context.Context, vc VerifyContext) (*BeforeHookResult, error) {
	h.mu.RLock()
	hooks := make([]BeforeVerifyHook, len(h.beforeVerify))
	copy(hooks, h.beforeVerify)
	h.mu.RUnlock()

	for _, hook := range hooks {
		res, err := hook(ctx, vc)
		if err != nil {
			return nil, err
		}
		if res != nil && res.Abort {
			return res, nil
		}
	}
	return nil, nil
}

// runAfterVerify runs after-verify hooks in order, logging and swallowing
// errors so observation can never fail a verified payment.
func (h *hookSet) runAfterVerify(ctx context.Context, vc VerifyContext, result VerifyResponse, logger *slog.Logger) {
	h.mu.RLock()
	hooks := make([]AfterVerifyHook, len(h.afterVerify))
	copy(hooks, h.afterVerify)
	h.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, vc, result); err != nil {
			logger.Warn("after-verify hook failed", "error", err)
		}
	}
}

// runVerifyFailure runs failure hooks until one recovers. Hook errors are
// logged and the next hook runs.
func (h *hookSet) runVerifyFailure(ctx context.Context, vc VerifyContext, failure error, logger *slog.Logger) *VerifyResponse {
	h.mu.RLock()
	hooks := make([]VerifyFailureHook, len(h.verifyFailure))
	copy(hooks, h.verifyFailure)
	h.mu.RUnlock()

	for _, hook := range hooks {
		res, err := hook(ctx, vc, failure)
		if err != nil {
			logger.Warn("verify failure hook failed", "error", err)
			continue
		}
		if res != nil && res.Recovered && res.Result != nil {
			return res.Result
		}
	}
	return nil
}

func (h *hookSet) runBeforeSettle(ctx context.Context, sc SettleContext) (*BeforeHookResult, error) {
	h.mu.RLock()
	hooks := make([]BeforeSettleHook, len(h.beforeSettle))
	copy(hooks, h.beforeSettle)
	h.mu.RUnlock()

	for _, hook := range hooks {
		res, err := hook(ctx, sc)
		if err != nil {
			return nil, err
		}
		if res != nil && res.Abort {
			return res, nil
		}
	}
	return nil, nil
}

func (h *hookSet) runAfterSettle(ctx context.Context, sc SettleContext, result SettleResponse, logger *slog.Logger) {
	h.mu.RLock()
	hooks := make([]AfterSettleHook, len(h.afterSettle))
	copy(hooks, h.afterSettle)
	h.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, sc, result); err != nil {
			logger.Warn("after-settle hook failed", "error", err)
		}
	}
}

func (h *hookSet) runSettleFailure(ctx context.Context, sc SettleContext, failure error, logger *slog.Logger) *SettleResponse {
	h.mu.RLock()
	hooks := make([]SettleFailureHook, len(h.settleFailure))
	copy(hooks, h.settleFailure)
	h.mu.RUnlock()

	for _, hook := range hooks {
		res, err := hook(ctx, sc, failure)
		if err != nil {
			logger.Warn("settle failure hook failed", "error", err)
			continue
		}
		if res != nil && res.Recovered && res.Result != nil {
			return res.Result
		}
	}
	return nil
}
