package logbook

import (
	"math/rand"
	"sync"

	"github.com/forgewatch/forgewatch/pkg/types"
)

// OperatorPolicy picks the operator attributed to an event.
type OperatorPolicy interface {
	Operator() string
}

// QualityPolicy decides the inspection outcome of a workpiece.
type QualityPolicy interface {
	Quality() types.Quality
}

// RandomOperator picks uniformly from a roster.
type RandomOperator struct {
	roster []string

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomOperator returns a RandomOperator over roster seeded from src.
// A nil src seeds from the clock.
func NewRandomOperator(roster []string, src rand.Source) *RandomOperator {
	return &RandomOperator{roster: roster, rnd: newRand(src)}
}

func (p *RandomOperator) Operator() string {
	if len(p.roster) == 0 {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roster[p.rnd.Intn(len(p.roster))]
}

// RoundRobin cycles through a roster in order.
type RoundRobin struct {
	roster []string

	mu   sync.Mutex
	next int
}

// NewRoundRobin returns a RoundRobin over roster.
func NewRoundRobin(roster []string) *RoundRobin {
	return &RoundRobin{roster: roster}
}

func (p *RoundRobin) Operator() string {
	if len(p.roster) == 0 {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	op := p.roster[p.next%len(p.roster)]
	p.next++
	return op
}

// RandomQuality fails about 5% of parts and sends about 9.5% to rework.
type RandomQuality struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomQuality returns a RandomQuality seeded from src. A nil src seeds
// from the clock.
func NewRandomQuality(src rand.Source) *RandomQuality {
	return &RandomQuality{rnd: newRand(src)}
}

func (p *RandomQuality) Quality() types.Quality {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rnd.Float64() > 0.95 {
		return types.QualityFail
	}
	if p.rnd.Float64() > 0.90 {
		return types.QualityRework
	}
	return types.QualityPass
}

// FixedQuality always returns the same outcome.
type FixedQuality types.Quality

func (q FixedQuality) Quality() types.Quality { return types.Quality(q) }

// SequenceQuality returns the outcomes of seq in order, repeating.
type SequenceQuality struct {
	seq []types.Quality

	mu sync.Mutex
	i  int
}

// NewSequenceQuality returns a SequenceQuality over seq. An empty seq yields Pass.
func NewSequenceQuality(seq ...types.Quality) *SequenceQuality {
	return &SequenceQuality{seq: seq}
}

func (p *SequenceQuality) Quality() types.Quality {
	if len(p.seq) == 0 {
		return types.QualityPass
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.seq[p.i%len(p.seq)]
	p.i++
	return q
}

func newRand(src rand.Source) *rand.Rand {
	if src == nil {
		src = rand.NewSource(rand.Int63())
	}
	return rand.New(src)
}
