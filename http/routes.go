package http

import (
	"fmt"
	"strings"

	x402 "github.com/x402-foundation/x402-go"
)

// PaymentOption is one way a route accepts payment. PayTo and Price may be
// static values or callables resolved against the request context, for
// deployments where the recipient or the amount depends on the request.
type PaymentOption struct {
	Scheme            string
	Network           x402.Network
	PayTo             any // string | func() string | func(RequestContext) string
	Price             any // x402.Price | func() x402.Price | func(RequestContext) x402.Price
	MaxTimeoutSeconds int
}

// RouteConfig protects one route pattern.
type RouteConfig struct {
	Accepts           []PaymentOption
	Description       string
	MimeType          string
	Extensions        map[string]any
	CustomPaywallHTML string
}

// RoutesConfig maps route patterns to their configuration. Patterns are
// "METHOD /path" or just "/path" (any method); paths support a trailing "*"
// wildcard segment and ":name" parameter segments.
type RoutesConfig map[string]RouteConfig

type segmentKind int

const (
	segmentLiteral segmentKind = iota
	segmentParam
	segmentWildcard
)

type routeSegment struct {
	kind  segmentKind
	value string
}

// compiledOption is a PaymentOption with its dynamic fields normalized into
// evaluators.
type compiledOption struct {
	option            PaymentOption
	resolvePayTo      func(rc RequestContext) (string, error)
	resolvePrice      func(rc RequestContext) (x402.Price, error)
	maxTimeoutSeconds int
}

// compiledRoute is one route pattern ready for matching.
type compiledRoute struct {
	method       string // empty matches any method
	pattern      string
	segments     []routeSegment
	literalCount int
	hasWildcard  bool
	config       RouteConfig
	options      []compiledOption
	declarations map[string]any
}

// parseRoutePattern splits "METHOD /path" into its parts and compiles the
// path segments. A "*" is only valid as the final segment.
func parseRoutePattern(pattern string) (*compiledRoute, error) {
	trimmed := strings.TrimSpace(pattern)
	if trimmed == "" {
		return nil, fmt.Errorf("route pattern is empty")
	}

	method := ""
	path := trimmed
	if !strings.HasPrefix(trimmed, "/") {
		parts := strings.SplitN(trimmed, " ", 2)
		if len(parts) != 2 || !strings.HasPrefix(strings.TrimSpace(parts[1]), "/") {
			return nil, fmt.Errorf("invalid route pattern %q: want \"METHOD /path\" or \"/path\"", pattern)
		}
		method = strings.ToUpper(parts[0])
		path = strings.TrimSpace(parts[1])
	}

	route := &compiledRoute{method: method, pattern: pattern}
	for i, part := range splitPath(path) {
		switch {
		case part == "*":
			route.segments = append(route.segments, routeSegment{kind: segmentWildcard})
			route.hasWildcard = true
			if i != len(splitPath(path))-1 {
				return nil, fmt.Errorf("invalid route pattern %q: wildcard must be the final segment", pattern)
			}
		case strings.HasPrefix(part, ":"):
			if len(part) == 1 {
				return nil, fmt.Errorf("invalid route pattern %q: empty parameter name", pattern)
			}
			route.segments = append(route.segments, routeSegment{kind: segmentParam, value: part[1:]})
		default:
			route.segments = append(route.segments, routeSegment{kind: segmentLiteral, value: part})
			route.literalCount++
		}
	}
	return route, nil
}

// splitPath normalizes a path into segments, collapsing empty ones.
func splitPath(path string) []string {
	var segments []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// matches reports whether the route covers (method, path).
func (r *compiledRoute) matches(method, path string) bool {
	if r.method != "" && r.method != strings.ToUpper(method) {
		return false
	}
	parts := splitPath(path)
	for i, seg := range r.segments {
		switch seg.kind {
		case segmentWildcard:
			// Matches the remainder, including nothing.
			return true
		case segmentParam:
			if i >= len(parts) {
				return false
			}
		case segmentLiteral:
			if i >= len(parts) || parts[i] != seg.value {
				return false
			}
		}
	}
	return len(parts) == len(r.segments)
}

// specificity ranks candidate routes: more literal segments win, and among
// equals a route without a wildcard beats one with.
func (r *compiledRoute) specificity() int {
	score := r.literalCount * 10
	if !r.hasWildcard {
		score++
	}
	return score
}

// conflictsWith reports whether two routes are indistinguishable at match
// time: same effective method space and identical segment shape.
func (r *compiledRoute) conflictsWith(other *compiledRoute) bool {
	if r.method != "" && other.method != "" && r.method != other.method {
		return false
	}
	if len(r.segments) != len(other.segments) {
		return false
	}
	for i := range r.segments {
		a, b := r.segments[i], other.segments[i]
		if a.kind != b.kind {
			return false
		}
		if a.kind == segmentLiteral && a.value != b.value {
			return false
		}
	}
	return true
}

// compileOption normalizes the dynamic payTo and price fields into
// evaluators invoked once per request.
func compileOption(option PaymentOption) (compiledOption, error) {
	if option.Scheme == "" {
		return compiledOption{}, fmt.Errorf("payment option missing scheme")
	}
	if err := option.Network.Validate(); err != nil {
		return compiledOption{}, err
	}

	var resolvePayTo func(rc RequestContext) (string, error)
	switch payTo := option.PayTo.(type) {
	case string:
		if payTo == "" {
			return compiledOption{}, fmt.Errorf("payment option missing payTo")
		}
		resolvePayTo = func(RequestContext) (string, error) { return payTo, nil }
	case func() string:
		resolvePayTo = func(RequestContext) (string, error) { return payTo(), nil }
	case func(RequestContext) string:
		resolvePayTo = func(rc RequestContext) (string, error) { return payTo(rc), nil }
	default:
		return compiledOption{}, fmt.Errorf("payment option payTo must be a string or a producer, got %T", option.PayTo)
	}

	var resolvePrice func(rc RequestContext) (x402.Price, error)
	switch price := option.Price.(type) {
	case nil:
		return compiledOption{}, fmt.Errorf("payment option missing price")
	case func() x402.Price:
		resolvePrice = func(RequestContext) (x402.Price, error) { return price(), nil }
	case func(RequestContext) x402.Price:
		resolvePrice = func(rc RequestContext) (x402.Price, error) { return price(rc), nil }
	default:
		static := option.Price
		resolvePrice = func(RequestContext) (x402.Price, error) { return static, nil }
	}

	return compiledOption{
		option:            option,
		resolvePayTo:      resolvePayTo,
		resolvePrice:      resolvePrice,
		maxTimeoutSeconds: option.MaxTimeoutSeconds,
	}, nil
}

// resourceConfig materializes the option for one request.
func (o *compiledOption) resourceConfig(rc RequestContext) (x402.ResourceConfig, error) {
	payTo, err := o.resolvePayTo(rc)
	if err != nil {
		return x402.ResourceConfig{}, err
	}
	price, err := o.resolvePrice(rc)
	if err != nil {
		return x402.ResourceConfig{}, err
	}
	return x402.ResourceConfig{
		Scheme:            o.option.Scheme,
		Network:           o.option.Network,
		PayTo:             payTo,
		Price:             price,
		MaxTimeoutSeconds: o.maxTimeoutSeconds,
	}, nil
}

// compileRoutes parses every pattern, compiles its options, and detects
// conflicts. Problems across the whole table are collected into one error.
func compileRoutes(routes RoutesConfig) ([]*compiledRoute, error) {
	var compiled []*compiledRoute
	var problems []error

	for pattern, config := range routes {
		route, err := parseRoutePattern(pattern)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		if len(config.Accepts) == 0 {
			problems = append(problems, fmt.Errorf("route %q has no payment options", pattern))
			continue
		}
		for _, option := range config.Accepts {
			opt, err := compileOption(option)
			if err != nil {
				problems = append(problems, fmt.Errorf("route %q: %w", pattern, err))
				continue
			}
			route.options = append(route.options, opt)
		}
		route.config = config
		route.declarations = config.Extensions
		compiled = append(compiled, route)
	}

	for i := 0; i < len(compiled); i++ {
		for j := i + 1; j < len(compiled); j++ {
			if compiled[i].conflictsWith(compiled[j]) {
				problems = append(problems, fmt.Errorf(
					"routes %q and %q conflict", compiled[i].pattern, compiled[j].pattern))
			}
		}
	}

	if err := x402.NewConfigError(problems); err != nil {
		return nil, err
	}
	return compiled, nil
}

// matchRoute returns the most specific route covering (method, path), or
// nil when the request is not guarded.
func matchRoute(routes []*compiledRoute, method, path string) *compiledRoute {
	var best *compiledRoute
	for _, route := range routes {
		if !route.matches(method, path) {
			continue
		}
		if best == nil || route.specificity() > best.specificity() {
			best = route
		}
	}
	return best
}
