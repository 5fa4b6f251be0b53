// Package sched decides whether and when a frame is rendered. Damage
// accumulates between frame tokens; any number of state changes within
// one reactor wake collapse into at most one render, and no buffer is
// ever submitted without a token.
package sched

import (
	"github.com/veldt/ledge/internal/logger"
	"github.com/veldt/ledge/internal/state"
	"github.com/veldt/ledge/internal/surface"
)

// DamageSet is the pending-redraw record. It only grows between
// frames; Clear resets it after a successful submission.
type DamageSet struct {
	full    bool
	regions state.Region
}

// MarkRegion accumulates region damage. RegionNone is a no-op.
func (d *DamageSet) MarkRegion(r state.Region) {
	d.regions |= r
}

// MarkFull flags a whole-surface redraw.
func (d *DamageSet) MarkFull() {
	d.full = true
	d.regions = state.RegionAll
}

// Empty reports whether nothing needs redrawing.
func (d *DamageSet) Empty() bool {
	return !d.full && d.regions == state.RegionNone
}

// Full reports whether the whole surface is damaged.
func (d *DamageSet) Full() bool { return d.full }

// Regions returns the accumulated region mask.
func (d *DamageSet) Regions() state.Region { return d.regions }

// Clear resets the set. Called only after a frame covering it was
// submitted.
func (d *DamageSet) Clear() {
	d.full = false
	d.regions = state.RegionNone
}

// TokenSource hands out frame tokens; the surface manager implements
// it.
type TokenSource interface {
	TakeToken() (surface.FrameToken, bool)
}

// SubmitFunc renders the current state and submits it under the token.
// Transient failures (stale token, temporarily exhausted buffer pool,
// backend hiccup for one frame) must be reported through
// surface.IsTransient-recognizable errors or swallowed by the caller;
// anything else is fatal.
type SubmitFunc func(surface.FrameToken, *DamageSet) error

// Scheduler gates rendering on damage and token availability.
type Scheduler struct {
	damage DamageSet
	tokens TokenSource
	submit SubmitFunc
}

// New creates a scheduler.
func New(tokens TokenSource, submit SubmitFunc) *Scheduler {
	return &Scheduler{tokens: tokens, submit: submit}
}

// StateChanged records that upstream mutated panel state touching the
// given regions. Rendering happens later, at Flush.
func (s *Scheduler) StateChanged(region state.Region) {
	s.damage.MarkRegion(region)
}

// StateChangedFull records a change invalidating the whole surface.
func (s *Scheduler) StateChangedFull() {
	s.damage.MarkFull()
}

// Damage exposes the pending set for inspection.
func (s *Scheduler) Damage() *DamageSet { return &s.damage }

// Flush renders at most one frame: only if damage is pending and a
// token is available. Without a token the damage stays accumulated for
// the next one. Returns a fatal error only.
func (s *Scheduler) Flush() error {
	if s.damage.Empty() {
		return nil
	}
	token, ok := s.tokens.TakeToken()
	if !ok {
		// Deferred: the next token triggers another Flush.
		return nil
	}

	if err := s.submit(token, &s.damage); err != nil {
		if surface.IsTransient(err) {
			// Damage is kept; the frame retries on the next token.
			logger.Debugf("Frame deferred: %v", err)
			return nil
		}
		return err
	}
	s.damage.Clear()
	return nil
}
