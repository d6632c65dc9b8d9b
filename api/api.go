// Package api exposes the refill service over HTTP: intent submission and
// status reads under the signed envelope, plus an unauthenticated health
// probe. Handlers translate coded failures into transport statuses; they hold
// no state of their own.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/tos-network/refilld/catalog"
	"github.com/tos-network/refilld/envelope"
	"github.com/tos-network/refilld/log"
	"github.com/tos-network/refilld/metrics"
	"github.com/tos-network/refilld/params"
	"github.com/tos-network/refilld/refill"
)

const (
	// maxRequestContentLength caps inbound bodies. Intents are a few
	// hundred bytes even wrapped in a token.
	maxRequestContentLength = 1024 * 1024

	healthy   = "healthy"
	unhealthy = "unhealthy"
)

var (
	requestCounter = metrics.NewRegisteredCounter("api/requests", nil)
	failureCounter = metrics.NewRegisteredCounter("api/failures", nil)
)

// Backend is the slice of the refill service the handlers consume.
type Backend interface {
	SubmitRefill(ctx context.Context, intent *refill.Intent) (*refill.SubmitResult, *refill.Error)
	RefillStatus(requestID string) (*refill.StatusResult, *refill.Error)
}

// Server routes the versioned refill endpoints. It implements http.Handler;
// the node wraps it with the CORS and virtual-host middleware and owns the
// listener lifecycle.
type Server struct {
	backend Backend
	catalog *catalog.Catalog
	env     *envelope.Envelope
	router  *httprouter.Router
	log     log.Logger
}

// NewServer wires the handler set over a refill backend, the catalog used by
// the health probe and a constructed envelope (pass-through when auth is
// disabled).
func NewServer(backend Backend, cat *catalog.Catalog, env *envelope.Envelope, logger log.Logger) *Server {
	if logger == nil {
		logger = log.Root()
	}
	s := &Server{
		backend: backend,
		catalog: cat,
		env:     env,
		log:     logger.New("service", "api"),
	}

	router := httprouter.New()
	router.GET("/v1/health", s.health)
	router.POST("/v1/wallet/refill", s.submitRefill)
	router.GET("/v1/wallet/refill/status/:refill_request_id", s.refillStatus)
	router.MethodNotAllowed = http.HandlerFunc(s.methodNotAllowed)
	s.router = router
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// response is the uniform body shape of every endpoint except the health
// probe. Failures carry the stable code and its data payload.
type response struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"error_message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// healthStatus is the health probe's body. It is never wrapped in the signed
// envelope so load balancers can read it.
type healthStatus struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestCounter.Inc(1)

	status := healthStatus{
		Status: healthy,
		Services: map[string]string{
			"api":      healthy,
			"database": healthy,
		},
		Version:   params.VersionWithMeta,
		Timestamp: time.Now().UTC(),
	}
	code := http.StatusOK
	if err := s.catalog.Ping(); err != nil {
		s.log.Error("Health probe failed", "err", err)
		status.Status = unhealthy
		status.Services["database"] = unhealthy
		code = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(&status)
}

func (s *Server) submitRefill(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestCounter.Inc(1)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestContentLength))
	if err != nil {
		s.writeError(w, refill.NewError(refill.CodeInvalidToken, "request body unreadable: "+err.Error(), nil))
		return
	}
	payload, err := s.env.Verify(body)
	if err != nil {
		s.writeError(w, envelopeError(err))
		return
	}
	intent := new(refill.Intent)
	if err := json.Unmarshal(payload, intent); err != nil {
		s.writeError(w, refill.NewError(refill.CodeInvalidToken, "request payload is not a refill intent", nil))
		return
	}

	result, rerr := s.backend.SubmitRefill(r.Context(), intent)
	if rerr != nil {
		s.writeError(w, rerr)
		return
	}
	s.writeSuccess(w, result)
}

func (s *Server) refillStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	requestCounter.Inc(1)

	requestID := ps.ByName("refill_request_id")
	if s.env.Enabled() {
		token, err := envelope.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			s.writeError(w, envelopeError(err))
			return
		}
		payload, err := s.env.Verify([]byte(token))
		if err != nil {
			s.writeError(w, envelopeError(err))
			return
		}
		var claim struct {
			RefillRequestID string `json:"refill_request_id"`
		}
		if err := json.Unmarshal(payload, &claim); err != nil {
			s.writeError(w, refill.NewError(refill.CodeInvalidToken, "token payload is not a JSON object", nil))
			return
		}
		// The token may restate the target id; when it does, it must
		// agree with the URL.
		if claim.RefillRequestID != "" && claim.RefillRequestID != requestID {
			s.writeError(w, refill.NewError(refill.CodeRefillRequestIDMismatch,
				"refill_request_id in the token does not match the request path", nil))
			return
		}
	}

	result, rerr := s.backend.RefillStatus(requestID)
	if rerr != nil {
		s.writeError(w, rerr)
		return
	}
	s.writeSuccess(w, result)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	requestCounter.Inc(1)
	s.writeError(w, refill.NewError(refill.CodeMethodNotAllowed,
		r.Method+" is not supported on "+r.URL.Path, nil))
}

func (s *Server) writeSuccess(w http.ResponseWriter, data interface{}) {
	s.reply(w, http.StatusOK, &response{Success: true, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, rerr *refill.Error) {
	failureCounter.Inc(1)
	s.reply(w, rerr.HTTPStatus(), &response{
		Success: false,
		Code:    string(rerr.ErrorCode()),
		Message: rerr.Error(),
		Data:    rerr.ErrorData(),
	})
}

// reply writes the response body. With auth enabled the JSON body is replaced
// by a signed token; a signing failure sends an empty 500 so an unsigned
// payload never leaves the service.
func (s *Server) reply(w http.ResponseWriter, status int, resp *response) {
	if s.env.Enabled() {
		token, err := s.env.Sign(resp)
		if err != nil {
			s.log.Error("Response signing failed", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		io.WriteString(w, token)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("Response encoding failed", "err", err)
	}
}

// envelopeError translates envelope failures into their stable codes.
func envelopeError(err error) *refill.Error {
	switch {
	case errors.Is(err, envelope.ErrTokenExpired):
		return refill.NewError(refill.CodeTokenExpired, "token expired", nil)
	case errors.Is(err, envelope.ErrLifetimeExceeded):
		return refill.NewError(refill.CodeJWTLifetimeExceeded, "token lifetime exceeds the configured maximum", nil)
	case errors.Is(err, envelope.ErrMissingAuthHeader):
		return refill.NewError(refill.CodeMissingAuthHeader, "authorization header is required", nil)
	case errors.Is(err, envelope.ErrInvalidAuthFormat):
		return refill.NewError(refill.CodeInvalidAuthFormat, "authorization header must carry a bearer token", nil)
	case errors.Is(err, envelope.ErrMissingBearer):
		return refill.NewError(refill.CodeMissingBearerToken, "bearer token is empty", nil)
	default:
		return refill.NewError(refill.CodeInvalidToken, err.Error(), nil)
	}
}
