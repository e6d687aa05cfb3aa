package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fathomquant/supervisor/pkg/registry"
	"github.com/fathomquant/supervisor/pkg/storage"
	"github.com/fathomquant/supervisor/pkg/types"
)

// HealthStatus is the JSON body returned by /health and /ready.
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

type componentHealth struct {
	healthy bool
	message string
}

// HealthChecker backs the /health, /ready, /live endpoints. The store and
// handler registry are this process's only two load-bearing dependencies,
// and both expose a cheap synchronous way to tell if they are actually
// usable — a live bbolt handle, a non-empty handler table — so their
// health is derived by querying them directly through Bind rather than
// trusting a bool some other goroutine remembered to report. The
// scheduler's tick loop has no equivalent synchronous probe (it either is
// or isn't ticking in the background), so it still goes through the
// generic externally-reported components map.
type HealthChecker struct {
	mu         sync.RWMutex
	store      storage.Store
	registry   *registry.Registry
	components map[string]componentHealth
	startTime  time.Time
	version    string
}

var healthChecker = &HealthChecker{
	components: make(map[string]componentHealth),
	startTime:  time.Now(),
}

// Bind wires the store and registry that GetHealth/GetReadiness probe
// directly. Call once at startup, after both are constructed.
func Bind(store storage.Store, reg *registry.Registry) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.store = store
	healthChecker.registry = reg
}

// SetVersion records the supervisor build version for health responses.
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// RegisterComponent records or overwrites the health of a component with
// no direct liveness probe (currently just "scheduler").
func RegisterComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.components[name] = componentHealth{healthy: healthy, message: message}
}

// UpdateComponent is an alias for RegisterComponent, kept distinct for
// call-site clarity (first registration vs. subsequent updates).
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// storeSnapshot probes the bound store for a queue-depth summary, proving
// the bbolt handle actually answers reads rather than just having opened
// successfully at startup.
func storeSnapshot(store storage.Store) (string, error) {
	queued, err := store.List(types.ListFilter{State: types.JobQueued})
	if err != nil {
		return "", err
	}
	running, err := store.List(types.ListFilter{State: types.JobRunning})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("healthy (%d queued, %d running)", len(queued), len(running)), nil
}

// GetHealth reports overall health: healthy unless the store is
// unreachable or a registered component is unhealthy.
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	store := healthChecker.store
	components := make(map[string]componentHealth, len(healthChecker.components))
	for k, v := range healthChecker.components {
		components[k] = v
	}
	version := healthChecker.version
	startTime := healthChecker.startTime
	healthChecker.mu.RUnlock()

	status := "healthy"
	out := make(map[string]string, len(components)+1)

	if store != nil {
		if summary, err := storeSnapshot(store); err != nil {
			status = "unhealthy"
			out["store"] = "unhealthy: " + err.Error()
		} else {
			out["store"] = summary
		}
	}

	for name, c := range components {
		if !c.healthy {
			status = "unhealthy"
			out[name] = "unhealthy: " + c.message
		} else {
			out[name] = "healthy"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: out,
		Version:    version,
		Uptime:     time.Since(startTime).String(),
	}
}

// GetReadiness reports readiness: the store must answer reads, the
// registry must have at least one handler registered (an empty registry
// can accept no job type), and the scheduler must have reported healthy.
func GetReadiness() HealthStatus {
	healthChecker.mu.RLock()
	store := healthChecker.store
	reg := healthChecker.registry
	scheduler, schedulerRegistered := healthChecker.components["scheduler"]
	version := healthChecker.version
	startTime := healthChecker.startTime
	healthChecker.mu.RUnlock()

	status := "ready"
	message := ""
	components := make(map[string]string, 3)

	switch {
	case store == nil:
		status, message = "not_ready", "waiting for store initialization"
		components["store"] = "not registered"
	default:
		if _, err := store.ListWorkers(); err != nil {
			status, message = "not_ready", "store unreachable"
			components["store"] = "not ready: " + err.Error()
		} else {
			components["store"] = "ready"
		}
	}

	switch {
	case reg == nil:
		status, message = "not_ready", "waiting for registry initialization"
		components["registry"] = "not registered"
	case len(reg.JobTypes()) == 0:
		status, message = "not_ready", "no job handlers registered"
		components["registry"] = "not ready: zero handlers"
	default:
		components["registry"] = "ready"
	}

	switch {
	case !schedulerRegistered:
		status, message = "not_ready", "waiting for scheduler initialization"
		components["scheduler"] = "not registered"
	case !scheduler.healthy:
		status, message = "not_ready", "waiting for scheduler"
		components["scheduler"] = "not ready: " + scheduler.message
	default:
		components["scheduler"] = "ready"
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    version,
		Uptime:     time.Since(startTime).String(),
	}
}

// HealthHandler serves GET /health.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	}
}

// ReadyHandler serves GET /ready.
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		w.Header().Set("Content-Type", "application/json")
		if readiness.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(readiness)
	}
}

// LivenessHandler serves GET /live: 200 whenever the process is able to
// respond at all.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(healthChecker.startTime).String(),
		})
	}
}
