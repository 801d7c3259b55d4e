package common

import (
	"errors"
	"sort"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

// Module names recognised by the pause guard. ModuleAll pauses every module.
const (
	ModuleAll     = "all"
	ModuleStaking = "staking"
	ModuleRevenue = "revenue"
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is a concurrency-safe PauseView toggled by operators.
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauses returns a guard with the supplied modules paused.
func NewPauses(modules ...string) *Pauses {
	p := &Pauses{paused: make(map[string]bool)}
	for _, m := range modules {
		p.Set(m, true)
	}
	return p
}

// IsPaused implements PauseView. A global pause covers every module.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[ModuleAll] || p.paused[module]
}

// Set pauses or resumes module.
func (p *Pauses) Set(module string, paused bool) {
	if module == "" {
		module = ModuleAll
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if paused {
		p.paused[module] = true
		return
	}
	delete(p.paused, module)
}

// Snapshot lists the paused modules in sorted order.
func (p *Pauses) Snapshot() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.paused))
	for m := range p.paused {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
