package x402

import (
	"fmt"
	"regexp"
	"sync"
)

// networkEntry is one registered network inside a version bucket. Pattern
// networks keep their compiled glob so lookups do not recompile per request.
type networkEntry[T any] struct {
	network Network
	pattern *regexp.Regexp
	schemes map[string]T
}

// SchemeRegistry maps (version, network, scheme) to a handler. Networks are
// kept in insertion order so wildcard patterns resolve deterministically:
// an exact network always beats a pattern, and among patterns the first
// registered match wins.
//
// Registration is idempotent: re-registering an existing
// (version, network, scheme) triple is ignored, the first handler stays.
type SchemeRegistry[T any] struct {
	mu       sync.RWMutex
	versions map[int][]*networkEntry[T]
}

// NewSchemeRegistry returns an empty registry.
func NewSchemeRegistry[T any]() *SchemeRegistry[T] {
	return &SchemeRegistry[T]{versions: make(map[int][]*networkEntry[T])}
}

// Register adds a handler under (version, network, scheme). The network may
// be a concrete CAIP-2 identifier or a single-wildcard pattern; patterns are
// compiled here, once. First registration wins on duplicates.
func (r *SchemeRegistry[T]) Register(version int, network Network, scheme string, handler T) error {
	if scheme == "" {
		return fmt.Errorf("scheme must not be empty")
	}
	if err := network.ValidateAsPattern(); err != nil {
		return err
	}

	var compiled *regexp.Regexp
	if network.IsPattern() {
		var err error
		compiled, err = compileNetworkPattern(network)
		if err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.versions[version] {
		if entry.network == network {
			if _, exists := entry.schemes[scheme]; !exists {
				entry.schemes[scheme] = handler
			}
			return nil
		}
	}

	r.versions[version] = append(r.versions[version], &networkEntry[T]{
		network: network,
		pattern: compiled,
		schemes: map[string]T{scheme: handler},
	})
	return nil
}

// RegisterCurrent registers a handler for the current protocol version.
func (r *SchemeRegistry[T]) RegisterCurrent(network Network, scheme string, handler T) error {
	return r.Register(ProtocolVersion, network, scheme, handler)
}

// RegisterV1 registers a handler for the legacy V1 wire format.
func (r *SchemeRegistry[T]) RegisterV1(network Network, scheme string, handler T) error {
	return r.Register(ProtocolVersionV1, network, scheme, handler)
}

// Lookup resolves (version, scheme, network) to a handler. Resolution order:
// the version bucket must exist, then an exact network match is preferred,
// then patterns are tried in registration order.
func (r *SchemeRegistry[T]) Lookup(version int, scheme string, network Network) (T, error) {
	var zero T

	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, ok := r.versions[version]
	if !ok {
		return zero, fmt.Errorf("%w: version %d", ErrNoVersion, version)
	}

	for _, entry := range entries {
		if entry.network == network {
			if handler, ok := entry.schemes[scheme]; ok {
				return handler, nil
			}
		}
	}
	for _, entry := range entries {
		if entry.pattern != nil && entry.pattern.MatchString(string(network)) {
			if handler, ok := entry.schemes[scheme]; ok {
				return handler, nil
			}
		}
	}

	return zero, fmt.Errorf("%w: scheme %q on network %q (version %d)",
		ErrNoNetworkOrScheme, scheme, network, version)
}

// Versions returns the versions with at least one registration, for
// diagnostics.
func (r *SchemeRegistry[T]) Versions() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.versions))
	for v := range r.versions {
		out = append(out, v)
	}
	return out
}

// Entries returns every (version, network, scheme, handler) registration in
// insertion order within each version bucket.
func (r *SchemeRegistry[T]) Entries() []RegistryEntry[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []RegistryEntry[T]
	for version, entries := range r.versions {
		for _, entry := range entries {
			for scheme, handler := range entry.schemes {
				out = append(out, RegistryEntry[T]{
					Version: version,
					Network: entry.network,
					Scheme:  scheme,
					Handler: handler,
				})
			}
		}
	}
	return out
}

// RegistryEntry is one registration as reported by Entries.
type RegistryEntry[T any] struct {
	Version int
	Network Network
	Scheme  string
	Handler T
}
