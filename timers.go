package quorumvote

import (
	"time"
)

// randIntn returns a pseudo-random int in [0,max) using the participant RNG
func (p *Participant) randIntn(max int) int {
	if max <= 0 {
		return 0
	}
	p.randMu.Lock()
	defer p.randMu.Unlock()
	return p.rand.Intn(max)
}

// armQuiescenceTimer starts or restarts the voting deadline.
// It must be called with the node lock held
func (p *Participant) armQuiescenceTimer() {
	if p.options.Timeout <= 0 {
		return
	}
	p.stopQuiescenceTimer()

	p.timerSeq++
	seq := p.timerSeq
	p.timer = time.AfterFunc(p.options.Timeout, func() {
		p.onQuiescence(seq)
	})
}

// touchQuiescenceTimer restarts the deadline when it is armed
func (p *Participant) touchQuiescenceTimer() {
	if p.timer != nil {
		p.armQuiescenceTimer()
	}
}

// stopQuiescenceTimer must be called with the node lock held
func (p *Participant) stopQuiescenceTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// onQuiescence resolves the outcome with the votes known so far
// when nothing happened during the deadline
func (p *Participant) onQuiescence(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished || p.state != Casting || seq != p.timerSeq {
		return
	}
	p.Logger.Warn().
		Str("state", p.state.String()).
		Int("generation", p.generation).
		Uint64("round", p.voting.Round()).
		Int("votes", p.voting.VoteCount()).
		Dur("timeout", p.options.Timeout).
		Msg("Voting timeout reached, resolving with known votes")
	p.timer = nil
	p.resolve()
}
