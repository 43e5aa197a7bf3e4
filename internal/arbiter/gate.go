package arbiter

import (
	"sync"

	"github.com/satriahrh/parley/domain/repositories"
)

// MicGate resolves the two actors that mute the microphone. The mic produces
// frames only when the user wants it on and the arbiter has not muted it, so
// an agent-driven unmute never reopens a mic the user turned off, and a user
// unmute during agent speech takes effect once the arbiter goes idle.
type MicGate struct {
	mic repositories.Microphone

	mu         sync.Mutex
	userOn     bool
	agentMuted bool
}

var _ Mutable = (*MicGate)(nil)

func NewMicGate(mic repositories.Microphone) *MicGate {
	return &MicGate{mic: mic, userOn: true}
}

func (g *MicGate) MuteForAgent() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.agentMuted {
		return false
	}
	g.agentMuted = true
	g.applyLocked()
	return true
}

func (g *MicGate) UnmuteForAgent() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.agentMuted = false
	g.applyLocked()
}

// SetUser records the user's intent and applies it if the agent allows
func (g *MicGate) SetUser(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.userOn = on
	g.applyLocked()
}

func (g *MicGate) UserOn() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.userOn
}

// Deferred reports a user unmute waiting for the agent to finish
func (g *MicGate) Deferred() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.userOn && g.agentMuted
}

// Reapply pushes the current decision to the device. Called before the mic
// starts, so it opens already muted when the agent holds the floor.
func (g *MicGate) Reapply() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.applyLocked()
}

// applyLocked also reaches a stopped mic, which keeps the state for its next Start
func (g *MicGate) applyLocked() {
	if g.userOn && !g.agentMuted {
		g.mic.Resume()
	} else {
		g.mic.Suspend()
	}
}
