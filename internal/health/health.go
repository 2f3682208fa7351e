package health

import (
	"sort"
	"sync"
	"time"

	"github.com/codingpal/agent/internal/logging"
)

var log = logging.L("health")

// Status is the health of one agent component.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
	Unknown   Status = "unknown"
)

// Component names reported by the agent.
const (
	ComponentMonitor   = "procmon"
	ComponentStore     = "store"
	ComponentOptimizer = "optimizer"
)

// Check stores the latest result for a named component.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Monitor collects component checks. It is safe for concurrent use.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
}

func NewMonitor() *Monitor {
	return &Monitor{checks: make(map[string]Check)}
}

// Update records status for name. Transitions are logged; repeats are not.
func (m *Monitor) Update(name string, status Status, message string) {
	m.mu.Lock()
	prev, existed := m.checks[name]
	m.checks[name] = Check{
		Name:      name,
		Status:    status,
		Message:   message,
		UpdatedAt: time.Now(),
	}
	m.mu.Unlock()

	if existed && prev.Status == status {
		return
	}
	if status == Healthy {
		log.Info("component healthy", "check", name)
	} else {
		log.Warn("component not healthy", "check", name, "status", string(status), "message", message)
	}
}

func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Overall returns the worst status across all checks, or Unknown when
// nothing has reported yet.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range m.checks {
		if rank(c.Status) > rank(worst) {
			worst = c.Status
		}
	}
	return worst
}

// All returns every check ordered by name.
func (m *Monitor) All() []Check {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Report is the JSON body served on /health.
type Report struct {
	Status     Status  `json:"status"`
	Components []Check `json:"components"`
}

func (m *Monitor) Report() Report {
	return Report{Status: m.Overall(), Components: m.All()}
}

func rank(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	default:
		return 3
	}
}
