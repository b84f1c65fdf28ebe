package logbook

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgewatch/forgewatch/pkg/types"
	"github.com/forgewatch/forgewatch/server/internal/ring"
)

// Capacities of the event log and the workpiece list.
const (
	EventCapacity     = 500
	WorkpieceCapacity = 200
)

// Defaults applied by New for zero Options fields.
const (
	DefaultParamChangeDelta = 500
	DefaultCycleTime        = 120
)

// DefaultRoster is the operator roster used when Options names none.
var DefaultRoster = []string{"Rajesh K.", "Sunil M.", "Priya S.", "Arun D."}

// Options configures a Synthesizer.
type Options struct {
	Operators OperatorPolicy
	Quality   QualityPolicy

	// Roster feeds the default RandomOperator when Operators is nil.
	Roster []string

	// ParamChangeDelta is the spindle speed jump, in RPM, that must be
	// exceeded for a parameter_change event.
	ParamChangeDelta float64
}

// Synthesizer owns the event log and workpiece list.
//
// Synthesizer is safe for concurrent use.
type Synthesizer struct {
	operators OperatorPolicy
	quality   QualityPolicy
	delta     float64

	mu         sync.Mutex
	events     *ring.Buffer[types.LogbookEvent]
	workpieces *ring.Buffer[types.Workpiece]
	partSeq    int
}

// New returns a Synthesizer. Nil policies select a RandomOperator over
// opts.Roster (or DefaultRoster) and RandomQuality.
func New(opts Options) *Synthesizer {
	if opts.Operators == nil {
		roster := opts.Roster
		if len(roster) == 0 {
			roster = DefaultRoster
		}
		opts.Operators = NewRandomOperator(roster, nil)
	}
	if opts.Quality == nil {
		opts.Quality = NewRandomQuality(nil)
	}
	if opts.ParamChangeDelta <= 0 {
		opts.ParamChangeDelta = DefaultParamChangeDelta
	}
	return &Synthesizer{
		operators:  opts.Operators,
		quality:    opts.Quality,
		delta:      opts.ParamChangeDelta,
		events:     ring.New[types.LogbookEvent](EventCapacity),
		workpieces: ring.New[types.Workpiece](WorkpieceCapacity),
	}
}

// Observe diffs prev against cur and records the resulting events and
// workpieces. prev is nil for a machine's first sample, which records nothing.
func (s *Synthesizer) Observe(prev *types.MachineSnapshot, cur types.MachineSnapshot, now time.Time) ([]types.LogbookEvent, []types.Workpiece) {
	if prev == nil {
		return nil, nil
	}

	var events []types.LogbookEvent
	if ev, ok := s.statusEvent(prev.Raw.Status, cur, now); ok {
		events = append(events, ev)
	}

	prevSpeed, speed := prev.Raw.Spindle.Speed, cur.Raw.Spindle.Speed
	if d := speed - prevSpeed; math.Abs(d) > s.delta {
		events = append(events, s.event(cur, types.EventParameterChange, now,
			fmt.Sprintf("S1: %s → %s RPM", num(prevSpeed), num(speed)),
			fmt.Sprintf("Delta: %s RPM", num(d)),
		))
	}

	var pieces []types.Workpiece
	// Counts are floored so fractional readings never lose a part.
	if n := math.Floor(cur.Raw.Production.PartsCompleted) - math.Floor(prev.Raw.Production.PartsCompleted); n >= 1 {
		count := int(math.Min(n, WorkpieceCapacity))
		pieces = make([]types.Workpiece, 0, count)
		batch := uuid.NewString()
		cycle := cur.Raw.Production.CycleTime
		if cycle <= 0 {
			cycle = DefaultCycleTime
		}
		for i := 0; i < count; i++ {
			pieces = append(pieces, types.Workpiece{
				MachineID:   cur.ID,
				MachineName: cur.Name,
				CycleTime:   cycle,
				Quality:     s.quality.Quality(),
				BatchID:     batch,
				Timestamp:   now,
			})
		}
	}

	if len(events) == 0 && len(pieces) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	for _, ev := range events {
		s.events.Push(ev)
	}
	for i := range pieces {
		s.partSeq++
		pieces[i].PartID = fmt.Sprintf("WP-%04d", s.partSeq)
		s.workpieces.Push(pieces[i])
	}
	s.mu.Unlock()

	return events, pieces
}

// statusEvent maps a status transition to its event. Transitions into
// PAUSED or OFFLINE, and unchanged status, produce no event.
func (s *Synthesizer) statusEvent(prev types.Status, cur types.MachineSnapshot, now time.Time) (types.LogbookEvent, bool) {
	next := cur.Raw.Status
	if prev == next {
		return types.LogbookEvent{}, false
	}
	switch next {
	case types.StatusRunning:
		return s.event(cur, types.EventStart, now,
			fmt.Sprintf("Machine started (was %s)", prev),
			fmt.Sprintf("Status: %s → %s", prev, next)), true
	case types.StatusIdle:
		return s.event(cur, types.EventStop, now,
			"Machine went idle",
			"S1 < 10 RPM for 15s"), true
	case types.StatusAlarm:
		return s.event(cur, types.EventAlarm, now,
			"Alarm triggered",
			"Automatic alarm detection"), true
	case types.StatusMaintenance:
		return s.event(cur, types.EventMaintenance, now,
			"Maintenance started",
			fmt.Sprintf("Status: %s → %s", prev, next)), true
	default:
		return types.LogbookEvent{}, false
	}
}

func (s *Synthesizer) event(cur types.MachineSnapshot, typ types.EventType, now time.Time, msg, details string) types.LogbookEvent {
	return types.LogbookEvent{
		ID:          uuid.NewString(),
		MachineID:   cur.ID,
		MachineName: cur.Name,
		Type:        typ,
		Message:     msg,
		Operator:    s.operators.Operator(),
		Timestamp:   now,
		Details:     details,
	}
}

// Events returns the event log, newest first.
func (s *Synthesizer) Events() []types.LogbookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Newest()
}

// Workpieces returns the workpiece list, newest first.
func (s *Synthesizer) Workpieces() []types.Workpiece {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workpieces.Newest()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
