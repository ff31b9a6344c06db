// Package health serves the liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ahrav/compliance-armada/pkg/common/logger"
)

// Checker reports whether a dependency is usable.
type Checker func(ctx context.Context) error

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build string
	Log   *logger.Logger
	// Checks are run by the readiness probe, keyed by dependency name.
	Checks map[string]Checker
	// Timeout bounds the whole readiness probe. Defaults to 2s.
	Timeout time.Duration
}

// Routes binds the health endpoints.
func Routes(r chi.Router, cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	r.Get("/liveness", liveness(cfg))
	r.Get("/readiness", readiness(cfg))
}

type healthResponse struct {
	Status string `json:"status"`
	Build  string `json:"build"`
}

type readyResponse struct {
	Status string            `json:"status"`
	Failed map[string]string `json:"failed,omitempty"`
}

func liveness(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusOK, healthResponse{Status: "ok", Build: cfg.Build})
	}
}

func readiness(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), cfg.Timeout)
		defer cancel()

		names := make([]string, 0, len(cfg.Checks))
		for name := range cfg.Checks {
			names = append(names, name)
		}
		sort.Strings(names)

		failed := make(map[string]string)
		for _, name := range names {
			if err := cfg.Checks[name](ctx); err != nil {
				cfg.Log.Warn(ctx, "Readiness check failed", "check", name, "error", err)
				failed[name] = err.Error()
			}
		}

		if len(failed) > 0 {
			write(w, http.StatusServiceUnavailable, readyResponse{Status: "not ready", Failed: failed})
			return
		}
		write(w, http.StatusOK, readyResponse{Status: "ready"})
	}
}

func write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
