package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"proofrender/internal/httpkit"
)

// Health reports liveness. With ?deep=true every registered dependency
// check runs and a failing one degrades the status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	health := map[string]any{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339Nano),
		"version":   h.version,
	}

	if r.URL.Query().Get("deep") == "true" {
		checks, ok := h.deepHealthCheck(ctx)
		health["checks"] = checks
		if !ok {
			health["status"] = "degraded"
			h.log.FromContext(ctx).Warn("health check degraded", "checks", checks)
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func (h *Handler) deepHealthCheck(ctx context.Context) (map[string]any, bool) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ok := true
	checks := make(map[string]any, len(names)+1)
	for _, name := range names {
		res := runCheck(ctx, h.checks[name])
		if res["status"] != "ok" {
			ok = false
		}
		checks[name] = res
	}
	if h.artifacts != nil {
		checks["storage"] = map[string]any{"status": "ok", "provider": h.artifacts.Provider()}
	}
	return checks, ok
}

func runCheck(ctx context.Context, check Check) map[string]any {
	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := check(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}
	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
