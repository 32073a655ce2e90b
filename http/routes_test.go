package http

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-foundation/x402-go"
)

func option() PaymentOption {
	return PaymentOption{
		Scheme:  "exact",
		Network: "eip155:8453",
		PayTo:   "0xMerchant",
		Price:   "$1.00",
	}
}

func TestCompileRoutesMatching(t *testing.T) {
	routes, err := compileRoutes(RoutesConfig{
		"GET /api/data":      {Accepts: []PaymentOption{option()}},
		"/api/users/:id":     {Accepts: []PaymentOption{option()}},
		"POST /api/upload/*": {Accepts: []PaymentOption{option()}},
	})
	require.NoError(t, err)
	require.Len(t, routes, 3)

	assert.NotNil(t, matchRoute(routes, "GET", "/api/data"))
	assert.Nil(t, matchRoute(routes, "POST", "/api/data"))
	assert.NotNil(t, matchRoute(routes, "DELETE", "/api/users/42"))
	assert.Nil(t, matchRoute(routes, "GET", "/api/users"))
	assert.NotNil(t, matchRoute(routes, "POST", "/api/upload/a/b/c"))
	assert.NotNil(t, matchRoute(routes, "POST", "/api/upload"))
	assert.Nil(t, matchRoute(routes, "GET", "/api/upload/a"))
}

func TestMatchRoutePrefersSpecific(t *testing.T) {
	routes, err := compileRoutes(RoutesConfig{
		"GET /api/*":    {Description: "wild", Accepts: []PaymentOption{option()}},
		"GET /api/data": {Description: "exact", Accepts: []PaymentOption{option()}},
	})
	require.NoError(t, err)

	got := matchRoute(routes, "GET", "/api/data")
	require.NotNil(t, got)
	assert.Equal(t, "exact", got.config.Description)

	got = matchRoute(routes, "GET", "/api/other")
	require.NotNil(t, got)
	assert.Equal(t, "wild", got.config.Description)
}

func TestCompileRoutesCollectsProblems(t *testing.T) {
	_, err := compileRoutes(RoutesConfig{
		"":           {Accepts: []PaymentOption{option()}},
		"/no-accept": {},
		"/bad-option": {Accepts: []PaymentOption{{
			Scheme:  "exact",
			Network: "not-a-network",
			PayTo:   "0xMerchant",
			Price:   "$1.00",
		}}},
	})
	require.Error(t, err)

	var configErr *x402.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Len(t, configErr.Problems, 3)
}

func TestCompileRoutesDetectsConflicts(t *testing.T) {
	_, err := compileRoutes(RoutesConfig{
		"GET /api/users/:id":   {Accepts: []PaymentOption{option()}},
		"GET /api/users/:name": {Accepts: []PaymentOption{option()}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict")
}

func TestCompileRoutesWildcardMustBeFinal(t *testing.T) {
	_, err := compileRoutes(RoutesConfig{
		"GET /api/*/data": {Accepts: []PaymentOption{option()}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wildcard must be the final segment")
}

func TestCompileOptionDynamicFields(t *testing.T) {
	opt, err := compileOption(PaymentOption{
		Scheme:  "exact",
		Network: "eip155:8453",
		PayTo:   func() string { return "0xDynamic" },
		Price: func(rc RequestContext) x402.Price {
			if rc.Method() == "POST" {
				return "$2.00"
			}
			return "$1.00"
		},
	})
	require.NoError(t, err)

	cfg, err := opt.resourceConfig(fakeRequest{method: "POST", path: "/x"})
	require.NoError(t, err)
	assert.Equal(t, "0xDynamic", cfg.PayTo)
	assert.Equal(t, x402.Price("$2.00"), cfg.Price)

	cfg, err = opt.resourceConfig(fakeRequest{method: "GET", path: "/x"})
	require.NoError(t, err)
	assert.Equal(t, x402.Price("$1.00"), cfg.Price)
}

func TestCompileOptionRejectsBadPayTo(t *testing.T) {
	_, err := compileOption(PaymentOption{
		Scheme:  "exact",
		Network: "eip155:8453",
		PayTo:   42,
		Price:   "$1.00",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payTo")
}

// fakeRequest is a minimal RequestContext for route tests.
type fakeRequest struct {
	method  string
	path    string
	headers map[string]string
	accept  string
	agent   string
}

func (f fakeRequest) Method() string { return f.method }
func (f fakeRequest) Path() string   { return f.path }
func (f fakeRequest) Header(name string) string {
	return f.headers[name]
}
func (f fakeRequest) URL() string       { return "https://example.com" + f.path }
func (f fakeRequest) Accept() string    { return f.accept }
func (f fakeRequest) UserAgent() string { return f.agent }
