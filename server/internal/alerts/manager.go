package alerts

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/forgewatch/forgewatch/pkg/types"
	"github.com/forgewatch/forgewatch/server/internal/config"
	"github.com/forgewatch/forgewatch/server/internal/ring"
)

// HistoryCapacity is the number of alerts kept in the alert history.
const HistoryCapacity = 200

// DefaultRules is the rule set used when the configuration defines none.
func DefaultRules() []config.AlertRule {
	return []config.AlertRule{
		{Type: "speed", Condition: "spindle_speed > spindleSpeed", Severity: "warning", Message: "High Spindle Speed: {value} RPM"},
		{Type: "load", Condition: "spindle_load > spindleLoad", Severity: "critical", Message: "High Spindle Load: {value}%"},
		{Type: "temp", Condition: "temperature > temperature", Severity: "critical", Message: "High Temperature: {value}°C"},
		{Type: "idle", Condition: "idle == true", Severity: "warning", Message: "Machine IDLE: S1 under 10 RPM for 15+ seconds"},
		{Type: "oee", Condition: "oee < oee", Severity: "warning", Message: "Low OEE: {value}%"},
	}
}

// Notifier receives each newly fired alert. Implementations must not block;
// Manager calls Notify from its own goroutine.
type Notifier interface {
	Notify(a types.Alert)
}

type rule struct {
	typ      string
	cond     condition
	severity types.Severity
	message  string
}

// Manager holds active alerts, suppression state and alert history.
//
// Manager is safe for concurrent use.
type Manager struct {
	rules    []rule
	notifier Notifier

	mu         sync.Mutex
	thresholds types.Thresholds
	active     []*types.Alert // creation order
	suppressed map[string]struct{}
	history    *ring.Buffer[types.Alert]
}

// New builds a Manager from the alert configuration. An empty rule list
// selects DefaultRules and zero thresholds select config.DefaultThresholds.
// notifier may be nil.
func New(cfg config.AlertsConfig, notifier Notifier) (*Manager, error) {
	if cfg.Thresholds == (types.Thresholds{}) {
		cfg.Thresholds = config.DefaultThresholds
	}
	src := cfg.Rules
	if len(src) == 0 {
		src = DefaultRules()
	}

	rules := make([]rule, 0, len(src))
	seen := make(map[string]bool, len(src))
	for _, r := range src {
		if r.Type == "" {
			return nil, fmt.Errorf("alerts: rule with condition %q has no type", r.Condition)
		}
		if seen[r.Type] {
			return nil, fmt.Errorf("alerts: duplicate rule type %q", r.Type)
		}
		seen[r.Type] = true

		c, err := parseCondition(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("alerts: rule %q: %w", r.Type, err)
		}
		sev := types.Severity(r.Severity)
		switch sev {
		case types.SeverityInfo, types.SeverityWarning, types.SeverityCritical:
		case "":
			sev = types.SeverityWarning
		default:
			return nil, fmt.Errorf("alerts: rule %q: unknown severity %q", r.Type, r.Severity)
		}
		msg := r.Message
		if msg == "" {
			msg = r.Type + ": {value}"
		}
		rules = append(rules, rule{typ: r.Type, cond: c, severity: sev, message: msg})
	}

	return &Manager{
		rules:      rules,
		notifier:   notifier,
		thresholds: cfg.Thresholds,
		suppressed: make(map[string]struct{}),
		history:    ring.New[types.Alert](HistoryCapacity),
	}, nil
}

// Evaluate tests every rule against snap and returns the alerts created in
// this call. A rule whose condition is false clears both the active alert and
// any suppression for that (machine, type) pair.
func (m *Manager) Evaluate(snap types.MachineSnapshot, now time.Time) []types.Alert {
	var fired []types.Alert

	m.mu.Lock()
	th := m.thresholds
	for _, r := range m.rules {
		id := types.AlertID(snap.ID, r.typ)
		holds, value := r.cond.eval(snap, th)

		if !holds {
			m.removeActive(id)
			delete(m.suppressed, id)
			continue
		}
		if m.findActive(id) >= 0 {
			continue
		}
		if _, ok := m.suppressed[id]; ok {
			continue
		}

		a := &types.Alert{
			ID:          id,
			MachineID:   snap.ID,
			MachineName: snap.Name,
			Type:        r.typ,
			Message:     strings.ReplaceAll(r.message, "{value}", value),
			Timestamp:   now,
			Severity:    r.severity,
		}
		m.active = append(m.active, a)
		m.history.Push(*a)
		fired = append(fired, *a)
	}
	m.mu.Unlock()

	for _, a := range fired {
		slog.Warn("alert fired",
			"machine", a.MachineID,
			"type", a.Type,
			"severity", a.Severity,
		)
		if m.notifier != nil {
			go m.notifier.Notify(a)
		}
	}
	return fired
}

// Acknowledge marks the active alert and its newest history entry as
// acknowledged. It reports whether an active alert with that id existed.
func (m *Manager) Acknowledge(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.findActive(id)
	if i < 0 {
		return false
	}
	m.active[i].Acknowledged = true
	m.history.UpdateNewest(func(a *types.Alert) bool {
		if a.ID != id {
			return false
		}
		a.Acknowledged = true
		return true
	})
	return true
}

// Resolve removes the active alert and marks its newest unresolved history
// entry resolved at now. No suppression is recorded, so the alert fires again
// on the next cycle where its condition holds.
func (m *Manager) Resolve(id string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.removeActive(id) {
		return false
	}
	at := now
	m.history.UpdateNewest(func(a *types.Alert) bool {
		if a.ID != id || a.Resolved {
			return false
		}
		a.Resolved = true
		a.ResolvedAt = &at
		return true
	})
	return true
}

// Dismiss removes the active alert with id and suppresses it until its
// condition is next observed false. The id is suppressed even when no alert
// is active. It reports whether an active alert was removed.
func (m *Manager) Dismiss(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := m.removeActive(id)
	m.suppressed[id] = struct{}{}
	return removed
}

// ClearAll dismisses every active alert and returns how many were removed.
func (m *Manager) ClearAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.active)
	for _, a := range m.active {
		m.suppressed[a.ID] = struct{}{}
	}
	m.active = nil
	return n
}

// Active returns copies of the active alerts in creation order.
func (m *Manager) Active() []types.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, *a)
	}
	return out
}

// History returns the alert history, newest first.
func (m *Manager) History() []types.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.Newest()
}

// Thresholds returns the live thresholds.
func (m *Manager) Thresholds() types.Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds
}

// UpdateThresholds merges p into the live thresholds and returns the result.
// The new values apply from the next Evaluate.
func (m *Manager) UpdateThresholds(p types.ThresholdsPatch) types.Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = m.thresholds.Merge(p)
	return m.thresholds
}

// Forget drops the active alerts and suppression state of machineID and
// returns how many active alerts were removed. History is kept.
func (m *Manager) Forget(machineID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.active[:0]
	for _, a := range m.active {
		if a.MachineID != machineID {
			kept = append(kept, a)
		}
	}
	n := len(m.active) - len(kept)
	for i := len(kept); i < len(m.active); i++ {
		m.active[i] = nil
	}
	m.active = kept
	for _, r := range m.rules {
		delete(m.suppressed, types.AlertID(machineID, r.typ))
	}
	return n
}

// Suppressed reports whether id is currently suppressed.
func (m *Manager) Suppressed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.suppressed[id]
	return ok
}

// findActive returns the index of id in m.active or -1. Caller holds m.mu.
func (m *Manager) findActive(id string) int {
	for i, a := range m.active {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// removeActive deletes id from m.active, keeping order. Caller holds m.mu.
func (m *Manager) removeActive(id string) bool {
	i := m.findActive(id)
	if i < 0 {
		return false
	}
	m.active = append(m.active[:i], m.active[i+1:]...)
	return true
}

// Fanout delivers every alert to each of its Notifiers in order.
type Fanout []Notifier

// Notify implements Notifier.
func (f Fanout) Notify(a types.Alert) {
	for _, n := range f {
		if n != nil {
			n.Notify(a)
		}
	}
}
