// SPDX-License-Identifier: MIT
package clock

import (
	"math"
	"testing"

	"pulse/internal/analysis"
	"pulse/internal/config"
)

func testClock() *BeatPhaseClock {
	return New(config.New().Clock)
}

// prime feeds confident snapshots until the clock's smoothed
// confidence is well above the coasting floor.
func prime(c *BeatPhaseClock, bpm float64) uint64 {
	seq := uint64(0)
	for i := 0; i < 100; i++ {
		seq++
		c.Tick(&analysis.Snapshot{Sequence: seq, BPM: bpm, Confidence01: 1}, 0.016)
	}
	return seq
}

func TestClockFreeRunsAtTempo(t *testing.T) {
	c := testClock()

	// One confident snapshot sets the tempo; then the clock coasts on
	// stale data and must keep integrating phase at that rate.
	snap := &analysis.Snapshot{Sequence: 1, BPM: 120, Confidence01: 1}
	c.Tick(snap, 1.0/120)

	dt := 1.0 / 120
	var frame Frame
	for i := 0; i < 240; i++ { // 2 s
		frame = c.Tick(snap, dt) // same sequence: treated as stale
	}

	if frame.BPM < 110 || frame.BPM > 130 {
		t.Errorf("BPM = %.1f, want near 120", frame.BPM)
	}
	if frame.Phase01 < 0 || frame.Phase01 >= 1 {
		t.Errorf("Phase01 = %.3f outside [0,1)", frame.Phase01)
	}
}

func TestClockPhaseMonotonic(t *testing.T) {
	c := testClock()
	snap := &analysis.Snapshot{Sequence: 1, BPM: 100, Confidence01: 1}
	c.Tick(snap, 0.01)

	dt := 1.0 / 120
	prev := c.Tick(snap, dt).Phase01
	for i := 0; i < 1000; i++ {
		phase := c.Tick(snap, dt).Phase01
		// Phase either advances or wraps; it never steps backwards
		// mid-cycle without corrections.
		if phase < prev && prev < 0.9 {
			t.Fatalf("phase stepped back from %.3f to %.3f without wrap", prev, phase)
		}
		prev = phase
	}
}

func TestClockCorrectionBounded(t *testing.T) {
	cfg := config.New().Clock
	c := New(cfg)

	// Establish tempo and confidence, then advance to mid-cycle.
	seq := prime(c, 120)
	var before Frame
	for i := 0; i < 30; i++ {
		before = c.Tick(nil, 1.0/120)
	}

	// A beat tick arrives while the phase is mid-cycle: maximum phase
	// error. The applied correction must not exceed MaxCorrection plus
	// the regular dt advance.
	dt := 1.0 / 120
	tick := &analysis.Snapshot{Sequence: seq + 1, BPM: 120, Confidence01: 1, BeatTick: true}
	after := c.Tick(tick, dt)

	advance := 120.0 / 60 * dt
	delta := math.Abs(wrapHalf(after.Phase01 - before.Phase01 - advance))
	if delta > cfg.MaxCorrection+1e-9 {
		t.Errorf("correction %.4f exceeds cap %.4f", delta, cfg.MaxCorrection)
	}
	if after.BeatStrength < 0.9 {
		t.Errorf("BeatStrength = %.2f right after a tick, want near 1", after.BeatStrength)
	}
}

func TestClockCoastsOnLowConfidence(t *testing.T) {
	c := testClock()

	// Confidence near zero: ticks must not correct the phase, and the
	// frame must say so.
	snap := &analysis.Snapshot{Sequence: 1, BPM: 120, Confidence01: 0}
	frame := c.Tick(snap, 0.01)
	if !frame.Coasting {
		t.Error("not coasting at zero confidence")
	}

	tickSnap := &analysis.Snapshot{Sequence: 2, BPM: 120, Confidence01: 0, BeatTick: true}
	before := c.Tick(nil, 0)
	after := c.Tick(tickSnap, 0)
	if after.BeatCount != before.BeatCount {
		t.Error("beat counted while coasting")
	}
	if after.BeatStrength > before.BeatStrength {
		t.Error("beat strength pulsed while coasting")
	}
}

func TestClockBeatStrengthDecays(t *testing.T) {
	c := testClock()
	seq := prime(c, 120)

	tick := &analysis.Snapshot{Sequence: seq + 1, BPM: 120, Confidence01: 1, BeatTick: true}
	frame := c.Tick(tick, 1.0/120)
	peak := frame.BeatStrength

	// 300 ms later the envelope (tau 150 ms) should be well down.
	for i := 0; i < 36; i++ {
		frame = c.Tick(nil, 1.0/120)
	}
	if frame.BeatStrength > peak*0.3 {
		t.Errorf("BeatStrength %.2f -> %.2f after 300 ms, want strong decay",
			peak, frame.BeatStrength)
	}
}

// TestClockRateIndependence runs the same musical scenario at two
// frame rates; smoothed outputs must land in the same place.
func TestClockRateIndependence(t *testing.T) {
	run := func(frameRate float64) Frame {
		c := testClock()
		var frame Frame
		steps := int(4 * frameRate) // 4 s
		dt := 1 / frameRate
		seq := uint64(0)
		hopAccum := 0.0
		for i := 0; i < steps; i++ {
			// New analysis observation every 16 ms, like a real hop.
			hopAccum += dt
			var snap *analysis.Snapshot
			if hopAccum >= 0.016 {
				hopAccum -= 0.016
				seq++
				snap = &analysis.Snapshot{Sequence: seq, BPM: 128, Confidence01: 0.8}
			}
			frame = c.Tick(snap, dt)
		}
		return frame
	}

	at60 := run(60)
	at240 := run(240)

	if math.Abs(at60.BPM-at240.BPM) > 1 {
		t.Errorf("BPM diverges across frame rates: %.2f vs %.2f", at60.BPM, at240.BPM)
	}
	if math.Abs(at60.Confidence01-at240.Confidence01) > 0.05 {
		t.Errorf("confidence diverges across frame rates: %.3f vs %.3f",
			at60.Confidence01, at240.Confidence01)
	}
	// Phase accumulates the whole run, so even a small per-tick rate
	// dependence would show up here. Compare on the circle.
	if d := math.Abs(wrapHalf(at60.Phase01 - at240.Phase01)); d > 0.02 {
		t.Errorf("phase diverges across frame rates: %.5f vs %.5f (delta %.5f)",
			at60.Phase01, at240.Phase01, d)
	}
}

func TestWrapHalf(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{0.25, 0.25},
		{0.75, -0.25},
		{-0.75, 0.25},
		{1.0, 0},
		{1.25, 0.25},
	}
	for _, tt := range tests {
		if got := wrapHalf(tt.in); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("wrapHalf(%g) = %g, want %g", tt.in, got, tt.want)
		}
	}
}
