package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/forgewatch/forgewatch/pkg/types"
	"github.com/forgewatch/forgewatch/server/internal/alerts"
	"github.com/forgewatch/forgewatch/server/internal/compute"
	"github.com/forgewatch/forgewatch/server/internal/config"
	"github.com/forgewatch/forgewatch/server/internal/history"
	"github.com/forgewatch/forgewatch/server/internal/idle"
	"github.com/forgewatch/forgewatch/server/internal/logbook"
	"github.com/forgewatch/forgewatch/server/internal/normalize"
	"github.com/forgewatch/forgewatch/server/internal/store"
)

// saveTimeout bounds one Saver call.
const saveTimeout = 5 * time.Second

// Saver persists applied readings.
type Saver interface {
	Save(ctx context.Context, machineID string, r types.RawReading, d types.DerivedMetrics) error
}

// Observer receives pipeline events, typically to update metrics.
// *metrics.Metrics implements it.
type Observer interface {
	SampleApplied(machineID string, d types.DerivedMetrics, idle bool)
	SampleDuplicate(machineID string)
	SampleRejected(machineID string)
	AlertFired(a types.Alert)
	ActiveAlerts(n int)
	SaveFailed()
	MachineGone(machineID string)
}

// Options configures an Engine. Zero values select the package defaults.
type Options struct {
	// Names maps machine ids to display names; unknown ids use the id.
	Names map[string]string

	HistorySize   int
	IdleThreshold float64
	IdleDwell     time.Duration
	SnapshotTTL   time.Duration

	Alerts   config.AlertsConfig
	Notifier alerts.Notifier
	Logbook  logbook.Options

	Saver    Saver
	Observer Observer

	// Now is the engine clock. Defaults to time.Now.
	Now func() time.Time
}

// Result summarizes one Ingest call. Id lists are sorted. Duplicates holds
// readings stamped at or before the machine's last applied timestamp.
type Result struct {
	Applied    []string                    `json:"applied"`
	Duplicates []string                    `json:"duplicates"`
	Rejected   map[string]normalize.Errors `json:"rejected,omitempty"`
	Alerts     []types.Alert               `json:"alerts,omitempty"`
}

// Engine is safe for concurrent use.
type Engine struct {
	now      func() time.Time
	saver    Saver
	observer Observer

	calc     *compute.Calculator
	idle     *idle.Detector
	alerts   *alerts.Manager
	logbook  *logbook.Synthesizer
	history  *history.Store
	snapshot *store.Store

	namesMu sync.RWMutex
	names   map[string]string

	locksMu sync.Mutex
	locks   map[string]*machineLock
}

// machineLock serializes one machine and remembers its last applied timestamp.
type machineLock struct {
	mu      sync.Mutex
	applied bool
	lastTS  time.Time
}

// New builds an Engine. It fails only on an invalid alert rule set.
func New(opts Options) (*Engine, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	am, err := alerts.New(opts.Alerts, opts.Notifier)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		now:      now,
		saver:    opts.Saver,
		observer: opts.Observer,
		calc:     compute.NewCalculator(),
		idle:     idle.New(opts.IdleThreshold, opts.IdleDwell),
		alerts:   am,
		logbook:  logbook.New(opts.Logbook),
		history:  history.New(opts.HistorySize),
		snapshot: store.New(opts.SnapshotTTL, now),
		locks:    make(map[string]*machineLock),
	}
	e.SetNames(opts.Names)
	return e, nil
}

// SetNames replaces the machine display names. Existing snapshots keep the
// name they were recorded with.
func (e *Engine) SetNames(names map[string]string) {
	cp := make(map[string]string, len(names))
	for k, v := range names {
		cp[k] = v
	}
	e.namesMu.Lock()
	e.names = cp
	e.namesMu.Unlock()
}

func (e *Engine) name(id string) string {
	e.namesMu.RLock()
	defer e.namesMu.RUnlock()
	if n, ok := e.names[id]; ok && n != "" {
		return n
	}
	return id
}

func (e *Engine) lock(id string) *machineLock {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	lk, ok := e.locks[id]
	if !ok {
		lk = &machineLock{}
		e.locks[id] = lk
	}
	return lk
}

// Ingest validates and applies every reading in batch. Invalid readings are
// reported in Result.Rejected and leave no trace in engine state.
func (e *Engine) Ingest(batch types.Batch) Result {
	res := Result{Applied: []string{}, Duplicates: []string{}}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for id, raw := range batch {
		wg.Add(1)
		go func(id string, raw types.RawReading) {
			defer wg.Done()
			out := e.ingestOne(id, raw)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case out.errs != nil:
				if res.Rejected == nil {
					res.Rejected = make(map[string]normalize.Errors)
				}
				res.Rejected[id] = out.errs
			case out.duplicate:
				res.Duplicates = append(res.Duplicates, id)
			default:
				res.Applied = append(res.Applied, id)
				res.Alerts = append(res.Alerts, out.fired...)
			}
		}(id, raw)
	}
	wg.Wait()

	sort.Strings(res.Applied)
	sort.Strings(res.Duplicates)
	sort.Slice(res.Alerts, func(i, j int) bool { return res.Alerts[i].ID < res.Alerts[j].ID })

	e.reportActive()
	return res
}

type outcome struct {
	errs      normalize.Errors
	duplicate bool
	fired     []types.Alert
}

func (e *Engine) ingestOne(id string, raw types.RawReading) outcome {
	now := e.now()

	r, errs := normalize.Reading(raw, now)
	if len(errs) > 0 {
		slog.Warn("engine: reading rejected", "machine", id, "err", errs.Error())
		if e.observer != nil {
			e.observer.SampleRejected(id)
		}
		return outcome{errs: errs.WithPrefix(id)}
	}

	lk := e.lock(id)
	lk.mu.Lock()
	defer lk.mu.Unlock()

	// Readings at or before the last applied timestamp would be diffed
	// against a newer snapshot; both are dropped.
	if lk.applied && !r.Timestamp.After(lk.lastTS) {
		if r.Timestamp.Equal(lk.lastTS) {
			slog.Debug("engine: duplicate reading dropped", "machine", id, "timestamp", r.Timestamp)
		} else {
			slog.Warn("engine: out-of-order reading dropped", "machine", id,
				"timestamp", r.Timestamp, "last", lk.lastTS)
		}
		if e.observer != nil {
			e.observer.SampleDuplicate(id)
		}
		return outcome{duplicate: true}
	}

	derived := e.calc.Process(id, r, now)
	isIdle := e.idle.Observe(id, r.Spindle.Speed, now)
	snap := types.MachineSnapshot{
		ID:      id,
		Name:    e.name(id),
		Raw:     r,
		Derived: derived,
		Idle:    isIdle,
	}

	var prev *types.MachineSnapshot
	if entry, ok := e.snapshot.Get(id); ok {
		p := entry.Snapshot
		prev = &p
	}
	e.snapshot.Put(snap)
	e.history.Append(id, history.Point(snap, now))

	fired := e.alerts.Evaluate(snap, now)
	events, pieces := e.logbook.Observe(prev, snap, now)

	lk.applied = true
	lk.lastTS = r.Timestamp

	slog.Debug("engine: reading applied",
		"machine", id,
		"status", r.Status,
		"oee", derived.OEE,
		"idle", isIdle,
		"alerts", len(fired),
		"events", len(events),
		"workpieces", len(pieces),
	)
	if e.observer != nil {
		e.observer.SampleApplied(id, derived, isIdle)
		for _, a := range fired {
			e.observer.AlertFired(a)
		}
	}
	if e.saver != nil {
		go e.save(id, r, derived)
	}
	return outcome{fired: fired}
}

func (e *Engine) save(id string, r types.RawReading, d types.DerivedMetrics) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := e.saver.Save(ctx, id, r, d); err != nil {
		slog.Error("engine: save reading failed", "machine", id, "err", err)
		if e.observer != nil {
			e.observer.SaveFailed()
		}
	}
}

// Run evicts machines that stopped reporting for longer than the snapshot
// TTL, forgetting their derived, idle, history and alert state. Run blocks
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.snapshot.Run(ctx, e.forget)
}

// forget drops the state of each evicted id. An id that was ingested again
// between eviction and the machine lock is live and is skipped.
func (e *Engine) forget(ids []string) {
	gone := 0
	for _, id := range ids {
		lk := e.lock(id)
		lk.mu.Lock()
		if _, live := e.snapshot.Get(id); live {
			lk.mu.Unlock()
			slog.Debug("engine: evicted machine reported again, kept", "machine", id)
			continue
		}
		e.calc.Forget(id)
		e.idle.Forget(id)
		e.history.Forget(id)
		dropped := e.alerts.Forget(id)
		lk.applied = false
		lk.mu.Unlock()

		gone++
		if e.observer != nil {
			e.observer.MachineGone(id)
		}
		slog.Info("engine: machine evicted", "machine", id, "alerts_dropped", dropped)
	}
	if gone > 0 {
		e.reportActive()
	}
}

// Snapshot returns the latest snapshot of id.
func (e *Engine) Snapshot(id string) (types.MachineSnapshot, bool) {
	entry, ok := e.snapshot.Get(id)
	return entry.Snapshot, ok
}

// Snapshots returns the latest snapshot of every live machine, sorted by id.
func (e *Engine) Snapshots() []types.MachineSnapshot {
	entries := e.snapshot.List()
	out := make([]types.MachineSnapshot, len(entries))
	for i, en := range entries {
		out[i] = en.Snapshot
	}
	return out
}

// History returns the rolling window of id, oldest first.
func (e *Engine) History(id string) []types.HistoryPoint { return e.history.Get(id) }

// IdleState returns the idle debounce state of id.
func (e *Engine) IdleState(id string) types.IdleState { return e.idle.State(id) }

// ActiveAlerts returns the active alerts in creation order.
func (e *Engine) ActiveAlerts() []types.Alert { return e.alerts.Active() }

// AlertHistory returns the alert history, newest first.
func (e *Engine) AlertHistory() []types.Alert { return e.alerts.History() }

// LogbookEvents returns the synthesized events, newest first.
func (e *Engine) LogbookEvents() []types.LogbookEvent { return e.logbook.Events() }

// Workpieces returns the synthesized workpieces, newest first.
func (e *Engine) Workpieces() []types.Workpiece { return e.logbook.Workpieces() }

// Thresholds returns the live alert thresholds.
func (e *Engine) Thresholds() types.Thresholds { return e.alerts.Thresholds() }

// UpdateThresholds merges p into the live thresholds; the result applies from
// the next Ingest.
func (e *Engine) UpdateThresholds(p types.ThresholdsPatch) types.Thresholds {
	th := e.alerts.UpdateThresholds(p)
	slog.Info("engine: thresholds updated",
		"spindle_speed", th.SpindleSpeed,
		"spindle_load", th.SpindleLoad,
		"temperature", th.Temperature,
		"oee", th.OEE,
	)
	return th
}

// AcknowledgeAlert marks an active alert acknowledged.
func (e *Engine) AcknowledgeAlert(id string) bool {
	return e.alerts.Acknowledge(id)
}

// ResolveAlert removes an active alert without suppressing it.
func (e *Engine) ResolveAlert(id string) bool {
	ok := e.alerts.Resolve(id, e.now())
	e.reportActive()
	return ok
}

// DismissAlert removes an alert and suppresses it until its condition clears.
func (e *Engine) DismissAlert(id string) bool {
	ok := e.alerts.Dismiss(id)
	e.reportActive()
	return ok
}

// ClearAllAlerts dismisses every active alert and returns how many there were.
func (e *Engine) ClearAllAlerts() int {
	n := e.alerts.ClearAll()
	e.reportActive()
	return n
}

func (e *Engine) reportActive() {
	if e.observer != nil {
		e.observer.ActiveAlerts(len(e.alerts.Active()))
	}
}
