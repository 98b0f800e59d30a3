package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkTimeout bounds each dependency probe
const checkTimeout = 2 * time.Second

// Handler reports service health. Postgres is the source of truth and its
// failure makes the service unhealthy; Redis is a disposable cache, so its
// failure is reported but does not fail the check.
type Handler struct {
	db    *sql.DB
	redis *redis.Client
}

// NewHandler creates a health handler
func NewHandler(db *sql.DB, redisClient *redis.Client) *Handler {
	return &Handler{db: db, redis: redisClient}
}

// ServeHTTP handles GET /healthz
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	status := http.StatusOK
	postgresStatus := "up"
	redisStatus := "up"

	if err := h.db.PingContext(ctx); err != nil {
		log.Printf("[ERROR] Health check: postgres unreachable: %v", err)
		postgresStatus = "down"
		status = http.StatusServiceUnavailable
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			log.Printf("[WARN] Health check: redis unreachable: %v", err)
			redisStatus = "down"
		}
	} else {
		redisStatus = "disabled"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "unavailable"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   overall,
		"postgres": postgresStatus,
		"redis":    redisStatus,
	})
}
