// Package router define las rutas HTTP del provider.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/PlusaN/keycloak-provider/internal/http/controllers/flowctrl"
	httperrors "github.com/PlusaN/keycloak-provider/internal/http/errors"
	mw "github.com/PlusaN/keycloak-provider/internal/http/middlewares"
)

// Deps contiene las dependencias del router.
type Deps struct {
	Flow *flowctrl.FlowController

	// MetricsHandler expone /metrics. Opcional.
	MetricsHandler http.Handler

	// Ready reporta si las dependencias (store de sesiones) responden.
	Ready func(r *http.Request) error
}

// New construye el router con toda la cadena de middlewares.
func New(deps Deps) http.Handler {
	r := chi.NewRouter()

	// flowHandler arma la cadena estándar de un endpoint del flujo.
	// requireSession: begin acepta (y genera) un session id nuevo, los pasos
	// posteriores lo exigen.
	flowHandler := func(h http.HandlerFunc, requireSession bool) http.Handler {
		return mw.Chain(h,
			mw.WithRecover(),
			mw.WithRequestID(),
			mw.WithAuthSession(requireSession),
			mw.WithNoStore(),
			mw.WithLogging(),
		)
	}

	r.Method(http.MethodPost, "/v1/flow/begin", flowHandler(deps.Flow.Begin, false))
	r.Method(http.MethodPost, "/v1/flow/action", flowHandler(deps.Flow.Action, true))
	r.Method(http.MethodDelete, "/v1/flow", flowHandler(deps.Flow.Discard, true))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if deps.Ready != nil {
			if err := deps.Ready(req); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("not ready"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	return r
}
