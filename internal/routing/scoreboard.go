package routing

import (
	"errors"
	"sync"
)

// Score weights
const (
	PenaltyWeight  = 300
	InflightWeight = 1000
)

// ErrNoCandidate is returned by Pick when every model is excluded
var ErrNoCandidate = errors.New("no candidate model left")

// ModelStats is the scoreboard entry for one model
type ModelStats struct {
	Name     string `json:"name"`
	Tokens   int64  `json:"tokens"`
	Penalty  int64  `json:"penalty"`
	Inflight int64  `json:"inflight"`
	Score    int64  `json:"score"`
}

func (s ModelStats) score() int64 {
	return s.Tokens + s.Penalty*PenaltyWeight + s.Inflight*InflightWeight
}

// Scoreboard ranks the models of one model set. Lower score wins; ties go to
// the model declared first.
type Scoreboard struct {
	mu     sync.Mutex
	order  []string
	models map[string]*ModelStats
}

// NewScoreboard creates a scoreboard for the given models in declaration order
func NewScoreboard(models []string) *Scoreboard {
	sb := &Scoreboard{models: make(map[string]*ModelStats, len(models))}
	for _, name := range models {
		if _, dup := sb.models[name]; dup {
			continue
		}
		sb.order = append(sb.order, name)
		sb.models[name] = &ModelStats{Name: name}
	}
	return sb
}

// Len is the number of configured models
func (sb *Scoreboard) Len() int {
	return len(sb.order)
}

// Pick selects the lowest-scoring model not in exclude and marks it in flight.
// The caller must call the returned release exactly once when the attempt ends.
func (sb *Scoreboard) Pick(exclude map[string]bool) (string, func(), error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	var best *ModelStats
	for _, name := range sb.order {
		if exclude[name] {
			continue
		}
		m := sb.models[name]
		if best == nil || m.score() < best.score() {
			best = m
		}
	}
	if best == nil {
		return "", nil, ErrNoCandidate
	}

	best.Inflight++
	name := best.Name

	var once sync.Once
	release := func() {
		once.Do(func() { sb.release(name) })
	}
	return name, release, nil
}

func (sb *Scoreboard) release(name string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if m, ok := sb.models[name]; ok && m.Inflight > 0 {
		m.Inflight--
	}
}

// Penalize records one failed model attempt
func (sb *Scoreboard) Penalize(name string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if m, ok := sb.models[name]; ok {
		m.Penalty++
	}
}

// AddTokens credits a successful attempt with the tokens it served
func (sb *Scoreboard) AddTokens(name string, tokens int) {
	if tokens <= 0 {
		return
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if m, ok := sb.models[name]; ok {
		m.Tokens += int64(tokens)
	}
}

// Snapshot returns every entry in declaration order
func (sb *Scoreboard) Snapshot() []ModelStats {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	out := make([]ModelStats, 0, len(sb.order))
	for _, name := range sb.order {
		m := *sb.models[name]
		m.Score = m.score()
		out = append(out, m)
	}
	return out
}
