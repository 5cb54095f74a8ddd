package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

const readinessTimeout = time.Second

type dependency struct {
	name string
	ping func(context.Context) error
}

// HealthHandler serves the liveness and readiness checks. Readiness pings
// the ledger database and, when locks or rates go through Redis, Redis.
type HealthHandler struct {
	deps []dependency
}

func NewHealthHandler(db *sql.DB, rdb redis.Cmdable) *HealthHandler {
	deps := []dependency{{name: "database", ping: db.PingContext}}
	if rdb != nil {
		deps = append(deps, dependency{name: "redis", ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return &HealthHandler{deps: deps}
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Ready fails with the first dependency that does not answer in time.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checked := make([]string, 0, len(h.deps))
	for _, d := range h.deps {
		if err := d.ping(ctx); err != nil {
			RespondError(w, r, http.StatusServiceUnavailable, "dependency/"+d.name, d.name+" unavailable")
			return
		}
		checked = append(checked, d.name)
	}
	RespondJSON(w, http.StatusOK, map[string]any{"status": "ready", "checked": checked})
}
