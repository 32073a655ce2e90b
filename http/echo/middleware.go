// Package echo provides x402 payment middleware for the Echo framework.
package echo

import (
	"bytes"
	"net/http"

	"github.com/labstack/echo/v4"

	x402http "github.com/x402-foundation/x402-go/http"
)

// bufferedWriter delays the handler's response until settlement headers are
// ready.
type bufferedWriter struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (w *bufferedWriter) WriteHeader(status int) {
	w.status = status
}

func (w *bufferedWriter) Write(data []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(data)
}

func (w *bufferedWriter) flush() {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.ResponseWriter.WriteHeader(w.status)
	if w.body.Len() > 0 {
		w.ResponseWriter.Write(w.body.Bytes())
	}
}

// Middleware guards routes with the payment handshake.
func Middleware(service *x402http.ResourceService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			result, err := service.ProcessRequest(req.Context(), x402http.NewRequestContext(req))
			if err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]string{
					"error": "payment processing failed",
				})
			}

			switch result.Kind {
			case x402http.ResultNoPaymentRequired:
				return next(c)

			case x402http.ResultPaymentError:
				return writeInstructions(c, result.Response)

			case x402http.ResultPaymentDeclined:
				return c.JSON(http.StatusPaymentRequired, map[string]string{
					"error": "payment declined",
				})

			case x402http.ResultPaymentVerified:
				buffered := &bufferedWriter{ResponseWriter: c.Response().Writer}
				c.Response().Writer = buffered

				if err := next(c); err != nil {
					c.Response().Writer = buffered.ResponseWriter
					return err
				}

				if buffered.status >= http.StatusBadRequest {
					buffered.flush()
					return nil
				}

				settlement, err := service.ProcessSettlement(req.Context(),
					*result.Payload, *result.Requirements, result.Declarations)
				if err != nil {
					buffered.ResponseWriter.WriteHeader(http.StatusPaymentRequired)
					buffered.ResponseWriter.Write([]byte(`{"error":"settlement failed"}`))
					return nil
				}
				for name, value := range settlement.Headers {
					buffered.Header().Set(name, value)
				}
				buffered.flush()
				return nil
			}
			return nil
		}
	}
}

func writeInstructions(c echo.Context, instructions *x402http.ResponseInstructions) error {
	for name, value := range instructions.Headers {
		c.Response().Header().Set(name, value)
	}
	contentType := instructions.Headers["Content-Type"]
	if contentType == "" {
		contentType = "application/json"
	}
	return c.Blob(instructions.StatusCode, contentType, instructions.Body)
}
