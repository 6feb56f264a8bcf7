// SPDX-License-Identifier: MIT
/*
Package clock provides the render-side beat clock.

Analysis snapshots arrive at hop rate with a BPM, a coarse phase, and
sparse beat ticks. Renderers run at their own frame rate and need a
smooth, monotonic beat phase with no visible jumps. BeatPhaseClock is
a small software PLL: it free-runs at the smoothed tempo and uses beat
ticks as phase references, applying bounded corrections so the phase
glides onto the beat instead of snapping.
*/
package clock

import (
	"math"

	"pulse/internal/analysis"
	"pulse/internal/config"
)

// Frame is the clock state for one rendered frame.
type Frame struct {
	BPM          float64
	Phase01      float64 // Beat phase, [0,1), monotonic modulo wrap
	BarPhase01   float64 // Bar phase assuming 4 beats per bar
	BeatCount    uint64
	BeatStrength float64 // Envelope pulsing on each tick, [0,1]
	Confidence01 float64
	Coasting     bool // True when confidence is too low to correct
}

// BeatPhaseClock integrates beat phase at frame rate. Not safe for
// concurrent use; call Tick from the render loop only.
type BeatPhaseClock struct {
	cfg config.Clock

	beatFloat    float64 // Continuous beat position, integer part = count
	bpm          float64
	conf         float64
	beatStrength float64
	beatCount    uint64
	lastSequence uint64
	obsElapsed   float64 // Time since the previous fresh snapshot
	started      bool
}

// New returns a clock idling at 120 BPM until snapshots arrive.
func New(cfg config.Clock) *BeatPhaseClock {
	return &BeatPhaseClock{cfg: cfg, bpm: 120}
}

// Tick advances the clock by dt seconds, folding in the given
// snapshot (pass the latest; stale snapshots are detected by sequence
// and only advance the free-running phase).
func (c *BeatPhaseClock) Tick(snap *analysis.Snapshot, dt float64) Frame {
	if dt < 0 {
		dt = 0
	}

	c.obsElapsed += dt
	fresh := snap != nil && snap.Sequence != c.lastSequence
	if fresh {
		c.lastSequence = snap.Sequence

		// Smoothing uses the elapsed time since the previous fresh
		// snapshot, so convergence depends on the analyzer's hop rate,
		// never on the render frame rate.
		elapsed := c.obsElapsed
		c.obsElapsed = 0

		if snap.BPM > 0 {
			k := 1 - math.Exp(-elapsed/c.cfg.BPMTau)
			if !c.started {
				c.bpm = snap.BPM
				c.started = true
			} else {
				c.bpm += k * (snap.BPM - c.bpm)
			}
		}
		k := 1 - math.Exp(-elapsed/c.cfg.ConfidenceTau)
		c.conf += k * (snap.Confidence01 - c.conf)
	}

	// Free-run at the smoothed tempo.
	c.beatFloat += c.bpm / 60 * dt

	coasting := c.conf < c.cfg.ConfidenceFloor
	if fresh && !coasting {
		if snap.DownbeatTick {
			// Downbeats are the strongest phase reference.
			c.correctTo(0, c.cfg.DownbeatGain)
			c.beatStrength = 1
			c.beatCount++
		} else if snap.BeatTick {
			c.correctTo(0, c.cfg.CorrectionGain)
			c.beatStrength = 1
			c.beatCount++
		}
	}

	// Beat strength decays between ticks.
	c.beatStrength *= math.Exp(-dt / c.cfg.BeatStrengthTau)

	phase := c.beatFloat - math.Floor(c.beatFloat)
	return Frame{
		BPM:          c.bpm,
		Phase01:      phase,
		BarPhase01:   math.Mod(c.beatFloat, 4) / 4,
		BeatCount:    c.beatCount,
		BeatStrength: c.beatStrength,
		Confidence01: c.conf,
		Coasting:     coasting,
	}
}

// correctTo nudges the fractional phase toward target (in cycles).
// The correction is the wrapped phase error scaled by gain and capped,
// so a tick can never visibly yank the phase.
func (c *BeatPhaseClock) correctTo(target, gain float64) {
	phase := c.beatFloat - math.Floor(c.beatFloat)
	err := wrapHalf(target - phase)
	corr := err * gain
	if corr > c.cfg.MaxCorrection {
		corr = c.cfg.MaxCorrection
	} else if corr < -c.cfg.MaxCorrection {
		corr = -c.cfg.MaxCorrection
	}
	c.beatFloat += corr
}

// wrapHalf maps a cycle difference into [-0.5, 0.5).
func wrapHalf(x float64) float64 {
	x -= math.Floor(x + 0.5)
	return x
}
