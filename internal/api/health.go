package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// CheckFunc reports whether a dependency is reachable.
type CheckFunc func(ctx context.Context) error

type HealthHandler struct {
	checks   map[string]CheckFunc
	required map[string]bool
	env      string
	version  string
}

// NewHealthHandler builds readiness over checks. A failing required check
// makes the service unavailable; any other failure only degrades it.
func NewHealthHandler(checks map[string]CheckFunc, required []string, env, version string) *HealthHandler {
	req := make(map[string]bool, len(required))
	for _, name := range required {
		req[name] = true
	}
	return &HealthHandler{
		checks:   checks,
		required: req,
		env:      env,
		version:  version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	resp := LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	deps := make(map[string]string, len(names))
	status := "ok"

	for _, name := range names {
		checkCtx, checkCancel := context.WithTimeout(ctx, time.Second)
		err := h.checks[name](checkCtx)
		checkCancel()

		if err == nil {
			deps[name] = "ok"
			continue
		}
		deps[name] = "down"
		switch {
		case h.required[name]:
			status = "error"
		case status == "ok":
			status = "degraded"
		}
	}

	resp := ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, resp)
}
