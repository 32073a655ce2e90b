// Package gin provides x402 payment middleware for the Gin framework.
package gin

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"

	x402http "github.com/x402-foundation/x402-go/http"
)

// responseWriter buffers the handler chain's output so settlement headers
// can be set before the body goes out.
type responseWriter struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (w *responseWriter) Write(data []byte) (int, error) {
	return w.body.Write(data)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
}

// Middleware guards routes with the payment handshake. Routes outside the
// service's table pass through. Settlement runs after the handler chain and
// is skipped when the chain produced an error status.
func Middleware(service *x402http.ResourceService) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := service.ProcessRequest(c.Request.Context(), x402http.NewRequestContext(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "payment processing failed",
			})
			return
		}

		switch result.Kind {
		case x402http.ResultNoPaymentRequired:
			c.Next()

		case x402http.ResultPaymentError:
			writeInstructions(c, result.Response)
			c.Abort()

		case x402http.ResultPaymentDeclined:
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error": "payment declined",
			})

		case x402http.ResultPaymentVerified:
			buffered := &responseWriter{
				ResponseWriter: c.Writer,
				body:           &bytes.Buffer{},
				status:         http.StatusOK,
			}
			c.Writer = buffered
			c.Next()

			if buffered.status >= http.StatusBadRequest {
				flush(buffered)
				return
			}

			settlement, err := service.ProcessSettlement(c.Request.Context(),
				*result.Payload, *result.Requirements, result.Declarations)
			if err != nil {
				buffered.ResponseWriter.WriteHeader(http.StatusPaymentRequired)
				buffered.ResponseWriter.Write([]byte(`{"error":"settlement failed"}`))
				return
			}
			for name, value := range settlement.Headers {
				buffered.Header().Set(name, value)
			}
			flush(buffered)
		}
	}
}

func flush(w *responseWriter) {
	w.ResponseWriter.WriteHeader(w.status)
	if w.body.Len() > 0 {
		w.ResponseWriter.Write(w.body.Bytes())
	}
}

func writeInstructions(c *gin.Context, instructions *x402http.ResponseInstructions) {
	for name, value := range instructions.Headers {
		c.Header(name, value)
	}
	c.Status(instructions.StatusCode)
	if len(instructions.Body) > 0 {
		c.Writer.Write(instructions.Body)
	}
}
