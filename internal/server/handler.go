package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/tzrouter/gateway/internal/apierror"
	"github.com/tzrouter/gateway/internal/stream"
)

// handleHealth responds with a simple JSON liveness status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleInference handles POST /v1/inference (spec.md section 6): decodes
// the request, dispatches to the coordinator, and writes either a single
// JSON response or an SSE stream depending on the request's stream flag.
func (s *Server) handleInference(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, apierror.Wrap(apierror.KindInvalidRequest, err, "reading request body"))
		return
	}

	req, err := decodeRequest(body)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if req.Stream {
		events, err := s.co.InferStream(r.Context(), req)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if err := stream.Write(w, events); err != nil {
			log.Printf("server: stream write error: %v", err)
		}
		return
	}

	resp, err := s.co.Infer(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(encodeResponse(resp)); err != nil {
		log.Printf("server: encoding response: %v", err)
	}
}

// writeError writes the uniform `{error: "<message>"}` body spec.md
// section 6/7 specify, at the HTTP status apierror.StatusFor maps the
// error's Kind to.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apierror.StatusFor(err))
	json.NewEncoder(w).Encode(errorBody{Error: errorMessage(err)})
}
