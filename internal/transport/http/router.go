// Package httptransport serves the method table over HTTP. Unary methods
// are POST endpoints exchanging JSON bodies; stream methods are GET
// endpoints delivering server-sent events. The transport stays thin: it
// decodes, dispatches by method name, and translates coded errors to
// statuses.
package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ever/internal/platform/middleware"
	"ever/internal/transport/rpc"
	dErrors "ever/pkg/domain-errors"
	"ever/pkg/requestcontext"
)

const unaryTimeout = 30 * time.Second

// Router dispatches HTTP requests into the rpc method table.
type Router struct {
	registry  *rpc.Registry
	validator middleware.TokenValidator
	logger    *slog.Logger
}

func NewRouter(registry *rpc.Registry, validator middleware.TokenValidator, logger *slog.Logger) *Router {
	return &Router{registry: registry, validator: validator, logger: logger}
}

// Handler builds the full route tree, middleware included.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(rt.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientInfo)
	r.Use(middleware.Logger(rt.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/rpc/{method}", func(r chi.Router) {
		r.With(middleware.Timeout(unaryTimeout)).Post("/", rt.handleUnary)
		r.Get("/", rt.handleStream)
	})
	return r
}

// authenticate enforces a method's auth requirement in place. Auth is a
// property of the method table entry, not of the URL, so it cannot live in
// a route-level middleware chain.
func (rt *Router) authenticate(w http.ResponseWriter, r *http.Request, method rpc.Method) (*http.Request, bool) {
	if !method.RequireAuth {
		return r, true
	}
	token := middleware.BearerToken(r)
	if token == "" {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token"))
		return r, false
	}
	claims, err := rt.validator.Validate(token)
	if err != nil {
		rt.logger.WarnContext(r.Context(), "rejected token",
			"method", method.Name,
			"error", err,
			"request_id", requestcontext.RequestID(r.Context()),
		)
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
		return r, false
	}
	ctx := requestcontext.WithAdminID(r.Context(), claims.AdminID)
	return r.WithContext(ctx), true
}

func (rt *Router) handleUnary(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "method")
	method, ok := rt.registry.Lookup(name)
	if !ok || method.Kind != rpc.KindUnary {
		writeError(w, dErrors.Newf(dErrors.CodeNotFound, "unknown method %q", name))
		return
	}
	r, ok = rt.authenticate(w, r, method)
	if !ok {
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeValidation, "unreadable request body"))
		return
	}

	ctx := r.Context()
	result, err := method.Unary(ctx, payload)
	if err != nil {
		rt.logger.WarnContext(ctx, "method failed",
			"method", name,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleStream serves a stream method as server-sent events. Each frame is
// one data event; a terminal error becomes an error event before the
// connection closes.
func (rt *Router) handleStream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "method")
	method, ok := rt.registry.Lookup(name)
	if !ok || method.Kind != rpc.KindStream {
		writeError(w, dErrors.Newf(dErrors.CodeNotFound, "unknown method %q", name))
		return
	}
	r, ok = rt.authenticate(w, r, method)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, dErrors.New(dErrors.CodeInternal, "streaming unsupported by connection"))
		return
	}

	payload := queryPayload(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(frame any) error {
		data, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := method.Stream(r.Context(), payload, send); err != nil {
		frame, _ := json.Marshal(errorBody(err))
		_, _ = w.Write([]byte("event: error\ndata: "))
		_, _ = w.Write(frame)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

// queryPayload lifts query parameters into a flat JSON object so stream
// methods decode requests the same way unary ones do.
func queryPayload(r *http.Request) json.RawMessage {
	values := r.URL.Query()
	if len(values) == 0 {
		return nil
	}
	flat := make(map[string]string, len(values))
	for key := range values {
		flat[key] = values.Get(key)
	}
	payload, err := json.Marshal(flat)
	if err != nil {
		return nil
	}
	return payload
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		_, _ = w.Write([]byte("null"))
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func errorBody(err error) map[string]string {
	code := dErrors.CodeOf(err)
	message := "internal error"
	var de *dErrors.Error
	if errors.As(err, &de) {
		message = de.Message
	}
	return map[string]string{
		"error":   string(code),
		"message": message,
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	writeJSON(w, dErrors.HTTPStatus(code), errorBody(err))
}
