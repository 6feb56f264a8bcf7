// SPDX-License-Identifier: MIT
package tempo

import (
	"math"
	"testing"

	"pulse/internal/config"
)

const (
	testHopRate = 62.5
	testHopDt   = 1.0 / testHopRate
)

// testConfig shortens the verification window so lock tests run on
// seconds of synthetic input rather than tens of seconds.
func testConfig() config.Tempo {
	cfg := config.New().Tempo
	cfg.VerifyWindow = 1.0
	return cfg
}

// feedClicks drives the tracker with an impulse train at the given
// tempo for the given duration and returns the last output plus the
// number of beat ticks observed.
func feedClicks(t *testing.T, tr *Tracker, bpm, seconds float64) (Output, int) {
	t.Helper()
	hops := int(seconds * testHopRate)
	beatPeriod := 60 / bpm

	var out Output
	ticks := 0
	nextBeat := 0.0
	now := 0.0
	for h := 0; h < hops; h++ {
		nf, ne := 0.0, 0.0
		if now >= nextBeat {
			nf, ne = 1.5, 1.0
			nextBeat += beatPeriod
		}
		out = tr.Update(nf, ne, testHopDt)
		if out.BeatTick {
			ticks++
		}
		now += testHopDt
	}
	return out, ticks
}

func TestTrackerLocksOnClickTrack(t *testing.T) {
	tests := []struct {
		name string
		bpm  float64
	}{
		{"Slow", 70},
		{"House", 120},
		{"Fast", 140},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(testConfig(), testHopRate)
			if err != nil {
				t.Fatal(err)
			}

			out, ticks := feedClicks(t, tr, tt.bpm, 10)

			if out.State != Verified {
				t.Fatalf("state = %s after 10 s of %g BPM clicks, want verified",
					out.State, tt.bpm)
			}
			if math.Abs(out.BPM-tt.bpm) > 2 {
				t.Errorf("BPM = %.1f, want %g +-2", out.BPM, tt.bpm)
			}
			if out.Confidence01 < 0.5 {
				t.Errorf("confidence = %.2f, want > 0.5 on a clean click track",
					out.Confidence01)
			}
			if ticks < 4 {
				t.Errorf("only %d beat ticks emitted", ticks)
			}
		})
	}
}

func TestTrackerLockLatency(t *testing.T) {
	// A clean 120 BPM click must reach Verified within 2 s, and no
	// beat tick may leak out before that.
	tr, err := New(testConfig(), testHopRate)
	if err != nil {
		t.Fatal(err)
	}

	beatPeriod := 0.5
	nextBeat := 0.0
	now := 0.0
	lockedAt := -1.0
	for h := 0; h < int(4*testHopRate); h++ {
		nf, ne := 0.0, 0.0
		if now >= nextBeat {
			nf, ne = 1.5, 1.0
			nextBeat += beatPeriod
		}
		out := tr.Update(nf, ne, testHopDt)
		now += testHopDt
		if out.BeatTick && lockedAt < 0 {
			t.Fatalf("beat tick at %.2f s, before verification", now)
		}
		if out.State == Verified && lockedAt < 0 {
			lockedAt = now
			if math.Abs(out.BPM-120) > 1 {
				t.Errorf("verified at %.1f BPM, want 120 +-1", out.BPM)
			}
		}
	}
	if lockedAt < 0 {
		t.Fatal("never verified on a clean 120 BPM click")
	}
	if lockedAt > 2 {
		t.Errorf("verified at %.2f s, want within 2 s", lockedAt)
	}
}

func TestTrackerSilenceNeverLocks(t *testing.T) {
	tr, err := New(testConfig(), testHopRate)
	if err != nil {
		t.Fatal(err)
	}

	var out Output
	for h := 0; h < 2000; h++ {
		out = tr.Update(0, 0, testHopDt)
		if out.BeatTick || out.DownbeatTick {
			t.Fatal("beat tick emitted on silent input")
		}
	}
	if out.State != Unlocked {
		t.Errorf("state = %s on silence, want unlocked", out.State)
	}
	if out.Confidence01 > 0.1 {
		t.Errorf("confidence = %.2f on silence, want near 0", out.Confidence01)
	}
}

func TestTrackerUnlocksOnSilence(t *testing.T) {
	tr, err := New(testConfig(), testHopRate)
	if err != nil {
		t.Fatal(err)
	}

	out, _ := feedClicks(t, tr, 120, 10)
	if out.State != Verified {
		t.Fatalf("precondition failed: state = %s, want verified", out.State)
	}

	// The level side reports silence; the tracker must drop the lock.
	tr.SetSilent(true)
	for h := 0; h < 10; h++ {
		out = tr.Update(0, 0, testHopDt)
		if out.BeatTick {
			t.Error("beat tick emitted during reported silence")
		}
	}
	if out.State != Unlocked {
		t.Errorf("state = %s after silence, want unlocked", out.State)
	}
}

func TestTrackerRejectsSubdivisions(t *testing.T) {
	// Clicks every 125 ms look like 480 BPM. The inter-onset gate
	// accepts only every fourth click at full strength, so the tracker
	// must land on 120 BPM, not an alias.
	tr, err := New(testConfig(), testHopRate)
	if err != nil {
		t.Fatal(err)
	}

	hops := int(12 * testHopRate)
	clickPeriod := 0.125
	nextClick := 0.0
	now := 0.0
	var out Output
	for h := 0; h < hops; h++ {
		nf, ne := 0.0, 0.0
		if now >= nextClick {
			nf, ne = 1.5, 1.0
			nextClick += clickPeriod
		}
		out = tr.Update(nf, ne, testHopDt)
		now += testHopDt
	}

	if math.Abs(out.BPM-120) > 3 {
		t.Errorf("BPM = %.1f on subdivided clicks, want about 120", out.BPM)
	}
	if tr.OnsetsRejected == 0 {
		t.Error("no onsets rejected; the inter-onset gate never fired")
	}
	if tr.OnsetsAccepted == 0 {
		t.Error("no onsets accepted")
	}
}

func TestTrackerTempoChangeRelocks(t *testing.T) {
	tr, err := New(testConfig(), testHopRate)
	if err != nil {
		t.Fatal(err)
	}

	out, _ := feedClicks(t, tr, 120, 10)
	if out.State != Verified {
		t.Fatalf("precondition failed: state = %s", out.State)
	}
	transitionsBefore := tr.LockTransitions

	// A jump well beyond the drift limit must force re-verification
	// rather than a silent glide.
	out, _ = feedClicks(t, tr, 70, 20)

	if tr.LockTransitions == transitionsBefore {
		t.Error("no lock transitions after a 50 BPM tempo change")
	}
	if math.Abs(out.BPM-70) > 3 {
		t.Errorf("BPM = %.1f after change to 70, want about 70", out.BPM)
	}
}

func TestTrackerPhaseRange(t *testing.T) {
	tr, err := New(testConfig(), testHopRate)
	if err != nil {
		t.Fatal(err)
	}

	seconds := 5.0
	hops := int(seconds * testHopRate)
	beatPeriod := 60.0 / 120
	nextBeat := 0.0
	now := 0.0
	for h := 0; h < hops; h++ {
		nf := 0.0
		if now >= nextBeat {
			nf = 1.5
			nextBeat += beatPeriod
		}
		out := tr.Update(nf, nf, testHopDt)
		if out.PhaseAtHop01 < 0 || out.PhaseAtHop01 >= 1 {
			t.Fatalf("phase %v outside [0,1)", out.PhaseAtHop01)
		}
		now += testHopDt
	}
}

func TestTrackerDownbeatCadence(t *testing.T) {
	tr, err := New(testConfig(), testHopRate)
	if err != nil {
		t.Fatal(err)
	}

	// Long run so plenty of ticks land while verified.
	feedClicks(t, tr, 120, 8)
	beats, downbeats := 0, 0
	beatPeriod := 0.5
	nextBeat := math.Ceil(8/beatPeriod) * beatPeriod
	now := 8.0
	for h := 0; h < int(16*testHopRate); h++ {
		nf := 0.0
		if now >= nextBeat {
			nf = 1.5
			nextBeat += beatPeriod
		}
		out := tr.Update(nf, nf, testHopDt)
		if out.BeatTick {
			beats++
		}
		if out.DownbeatTick {
			downbeats++
		}
		now += testHopDt
	}

	if beats < 8 {
		t.Fatalf("only %d beats in 16 s while locked", beats)
	}
	// One downbeat per four beats, within rounding.
	if downbeats == 0 || downbeats > beats/2 {
		t.Errorf("downbeats = %d of %d beats, want about one in four", downbeats, beats)
	}
}

func TestLockStateString(t *testing.T) {
	tests := []struct {
		state LockState
		want  string
	}{
		{Unlocked, "unlocked"},
		{Pending, "pending"},
		{Verified, "verified"},
		{LockState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("LockState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestNewValidation(t *testing.T) {
	cfg := testConfig()
	if _, err := New(cfg, 0); err == nil {
		t.Error("hop rate 0 accepted")
	}
	bad := cfg
	bad.BPMMin = 100
	bad.BPMMax = 50
	if _, err := New(bad, testHopRate); err == nil {
		t.Error("inverted BPM range accepted")
	}
}

func BenchmarkTrackerUpdate(b *testing.B) {
	tr, err := New(testConfig(), testHopRate)
	if err != nil {
		b.Fatal(err)
	}
	// Prime the history so the benchmark measures steady-state cost.
	for h := 0; h < 2000; h++ {
		tr.Update(0.5, 0.5, testHopDt)
	}

	for i := 0; i < b.N; i++ {
		tr.Update(0.5, 0.5, testHopDt)
	}
}
