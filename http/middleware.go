package http

import (
	"bytes"
	"encoding/json"
	"net/http"

	x402 "github.com/x402-foundation/x402-go"
)

// bufferedWriter captures the protected handler's response so settlement
// headers can be attached before anything reaches the wire.
type bufferedWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
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

// flush writes the captured response through to the real writer.
func (w *bufferedWriter) flush() {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.ResponseWriter.WriteHeader(w.status)
	if w.body.Len() > 0 {
		w.ResponseWriter.Write(w.body.Bytes())
	}
}

// Middleware guards the wrapped handler with the payment handshake.
// Requests outside the route table pass through untouched. A verified
// payment runs the handler against a buffered writer, settles, and only
// then releases the response, so the settlement header always accompanies
// the delivered content. Handler responses of 400 and above skip
// settlement: the payer is not charged for an error.
func (s *ResourceService) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := s.ProcessRequest(r.Context(), NewRequestContext(r))
		if err != nil {
			s.logger.Error("payment processing failed", "path", r.URL.Path, "error", err)
			writeJSONError(w, http.StatusInternalServerError, "payment processing failed")
			return
		}

		switch result.Kind {
		case ResultNoPaymentRequired:
			next.ServeHTTP(w, r)

		case ResultPaymentError:
			writeInstructions(w, result.Response)

		case ResultPaymentDeclined:
			writeJSONError(w, http.StatusPaymentRequired, "payment declined")

		case ResultPaymentVerified:
			buffered := &bufferedWriter{ResponseWriter: w}
			next.ServeHTTP(buffered, r)

			if buffered.status >= http.StatusBadRequest {
				buffered.flush()
				return
			}

			settlement, err := s.ProcessSettlement(r.Context(), *result.Payload, *result.Requirements, result.Declarations)
			if err != nil {
				s.logger.Error("settlement failed", "path", r.URL.Path, "error", err)
				writeJSONError(w, http.StatusPaymentRequired, "settlement failed")
				return
			}
			for name, value := range settlement.Headers {
				w.Header().Set(name, value)
			}
			buffered.flush()
		}
	})
}

// writeInstructions replays prepared response instructions.
func writeInstructions(w http.ResponseWriter, instructions *ResponseInstructions) {
	for name, value := range instructions.Headers {
		w.Header().Set(name, value)
	}
	w.WriteHeader(instructions.StatusCode)
	if len(instructions.Body) > 0 {
		w.Write(instructions.Body)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"x402Version": x402.ProtocolVersion,
		"error":       message,
	})
}
