package http

import (
	"html/template"
	"strings"

	x402 "github.com/x402-foundation/x402-go"
)

// PaywallProvider produces the HTML body served to browser user agents on a
// 402 response. The encoded PAYMENT-REQUIRED header still accompanies the
// page, so wallet extensions can pay programmatically.
type PaywallProvider func(required x402.PaymentRequired) string

var paywallTemplate = template.Must(template.New("paywall").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Payment Required</title>
  <style>
    body { font-family: -apple-system, system-ui, sans-serif; margin: 0; background: #f5f5f7; }
    .card { max-width: 28rem; margin: 4rem auto; background: #fff; border-radius: 12px; padding: 2rem; box-shadow: 0 1px 4px rgba(0,0,0,.08); }
    h1 { font-size: 1.25rem; margin: 0 0 .5rem; }
    p { color: #555; margin: 0 0 1.5rem; }
    table { width: 100%; border-collapse: collapse; font-size: .9rem; }
    td { padding: .4rem 0; border-bottom: 1px solid #eee; }
    td:first-child { color: #888; }
    td:last-child { text-align: right; font-family: ui-monospace, monospace; }
  </style>
</head>
<body>
  <div class="card">
    <h1>Payment Required</h1>
    <p>{{if .Description}}{{.Description}}{{else}}This resource requires payment to access.{{end}}</p>
    {{range .Accepts}}
    <table>
      <tr><td>Amount</td><td>{{.Amount}} {{.Asset}}</td></tr>
      <tr><td>Pay to</td><td>{{.PayTo}}</td></tr>
      <tr><td>Network</td><td>{{.Network}}</td></tr>
      <tr><td>Scheme</td><td>{{.Scheme}}</td></tr>
    </table>
    {{end}}
  </div>
</body>
</html>
`))

type paywallData struct {
	Description string
	Accepts     []x402.PaymentRequirements
}

// DefaultPaywall renders a minimal self-contained payment page from the 402
// body.
func DefaultPaywall(required x402.PaymentRequired) string {
	data := paywallData{Accepts: required.Accepts}
	if required.Resource != nil {
		data.Description = required.Resource.Description
	}
	var out strings.Builder
	if err := paywallTemplate.Execute(&out, data); err != nil {
		return "<html><body><h1>Payment Required</h1></body></html>"
	}
	return out.String()
}
