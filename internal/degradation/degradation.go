// Package degradation implements the graceful-degradation policy table
// (C3): a per-component ladder of reduced-capability levels the Recovery
// Orchestrator steps through instead of failing a session outright.
package degradation

import "sync"

// Level names one rung of a component's degradation ladder. Levels are
// ordered from lightest to heaviest degradation; a component may define
// as many as it needs.
type Level struct {
	Name               string
	Description        string
	RecoveryPriority    int // informational; no code in this module orders recovery by it
}

// Policy is the degradation ladder for one named component: an ordered
// list of levels to step down through as a downstream keeps failing.
type Policy struct {
	mu           sync.Mutex
	Component    string
	Levels       []Level
	currentIndex int
}

// NewPolicy constructs a Policy starting at full capability (no active
// level).
func NewPolicy(component string, levels ...Level) *Policy {
	return &Policy{Component: component, Levels: levels, currentIndex: -1}
}

// Current returns the active level, or ok=false if the component is
// running at full capability.
func (p *Policy) Current() (Level, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentIndex < 0 {
		return Level{}, false
	}
	return p.Levels[p.currentIndex], true
}

// StepDown moves to the next, heavier degradation level and returns it.
// Calling StepDown past the last level holds at the last level — a
// component cannot degrade below its defined floor.
func (p *Policy) StepDown() Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentIndex < len(p.Levels)-1 {
		p.currentIndex++
	}
	return p.Levels[p.currentIndex]
}

// StepUp moves one level back toward full capability. Returns ok=false
// once it reaches full capability (no active level).
func (p *Policy) StepUp() (Level, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentIndex < 0 {
		return Level{}, false
	}
	p.currentIndex--
	if p.currentIndex < 0 {
		return Level{}, false
	}
	return p.Levels[p.currentIndex], true
}

// Reset restores full capability immediately.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentIndex = -1
}

// Table holds one Policy per component. It does not order or schedule
// recovery; Level.RecoveryPriority is stored but not read by this package.
type Table struct {
	mu       sync.RWMutex
	policies map[string]*Policy
}

// NewTable constructs an empty Table.
func NewTable() *Table {
	return &Table{policies: make(map[string]*Policy)}
}

// Register adds a component's policy to the table.
func (t *Table) Register(p *Policy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.policies[p.Component] = p
}

// Get returns the named component's policy, or nil if unregistered.
func (t *Table) Get(component string) *Policy {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.policies[component]
}

// DefaultTable pre-registers the ethics_judge and quality_judge ladders,
// whose named levels are "reduced_analysis", "basic_ethics", and
// "skip_detailed_checks".
func DefaultTable() *Table {
	t := NewTable()
	t.Register(NewPolicy("ethics_judge",
		Level{Name: "reduced_analysis", Description: "skip secondary ethics heuristics, keep core checks", RecoveryPriority: 1},
		Level{Name: "basic_ethics", Description: "run only the mandatory privacy/safety checklist", RecoveryPriority: 2},
	))
	t.Register(NewPolicy("quality_judge",
		Level{Name: "skip_detailed_checks", Description: "skip style and maintainability analysis, keep correctness checks", RecoveryPriority: 1},
	))
	return t
}
