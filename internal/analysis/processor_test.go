// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"testing"

	"pulse/internal/config"
)

const testHopSize = 256

func newTestProcessor(t testing.TB) *Processor {
	t.Helper()
	p, err := NewProcessor(config.New().Analysis, testSampleRate, testHopSize)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// feedSine runs seconds of a sine at the given amplitude through the
// processor and returns the last snapshot.
func feedSine(p *Processor, freq, amplitude, seconds float64) Snapshot {
	var snap Snapshot
	hop := make([]int32, testHopSize)
	hops := int(seconds * testSampleRate / testHopSize)
	n := 0
	for h := 0; h < hops; h++ {
		for i := range hop {
			s := amplitude * math.Sin(2*math.Pi*freq*float64(n)/testSampleRate)
			hop[i] = int32(s * math.MaxInt32)
			n++
		}
		p.Process(hop, &snap)
	}
	return snap
}

func TestProcessorDCRemoval(t *testing.T) {
	// A pure DC offset must not register as loudness once the DC
	// estimate converges.
	p := newTestProcessor(t)

	var snap Snapshot
	offset := 0.3
	hop := make([]int32, testHopSize)
	for i := range hop {
		hop[i] = int32(offset * math.MaxInt32)
	}
	seconds := 5.0 // tau is 0.5 s, so plenty of time to converge
	hops := int(seconds * testSampleRate / testHopSize)
	for h := 0; h < hops; h++ {
		p.Process(hop, &snap)
	}

	if math.Abs(p.LastDC-offset) > 0.02 {
		t.Errorf("DC estimate = %.3f, want about %g", p.LastDC, offset)
	}
	if p.LastRMSPre > 0.01 {
		t.Errorf("centered RMS = %.4f with DC-only input, want near 0", p.LastRMSPre)
	}
}

func TestProcessorAGCConverges(t *testing.T) {
	// A quiet tone (above the silence threshold, so the floor tracker
	// can't claim it) should be pulled up toward the loudness target.
	p := newTestProcessor(t)
	feedSine(p, 500, 0.1, 10)

	if p.LastAGCGain < 2 {
		t.Errorf("gain = %.2f after quiet input, want well above unity", p.LastAGCGain)
	}
	if p.LastAGCGain > p.cfg.AGCMaxGain {
		t.Errorf("gain = %.2f exceeds max %.2f", p.LastAGCGain, p.cfg.AGCMaxGain)
	}
}

func TestProcessorAGCAsymmetry(t *testing.T) {
	// Attack (gain rising) must act faster than release (gain falling).
	// Feed quiet audio, measure the rise over one second; then loud
	// audio, measure the fall over one second.
	p := newTestProcessor(t)

	feedSine(p, 500, 0.1, 1)
	rise := p.LastAGCGain - 1.0

	// Settle high, then hit it with loud material.
	feedSine(p, 500, 0.1, 10)
	settled := p.LastAGCGain
	feedSine(p, 500, 0.6, 1)
	fall := settled - p.LastAGCGain

	if rise <= 0 {
		t.Fatalf("gain did not rise on quiet input (rise=%.3f)", rise)
	}
	if fall <= 0 {
		t.Fatalf("gain did not fall on loud input (fall=%.3f)", fall)
	}
	// Compare fractional progress toward the respective targets.
	if rise < fall/4 {
		t.Errorf("attack (%.3f/s) not faster than release (%.3f/s)", rise, fall)
	}
}

func TestProcessorAGCBounds(t *testing.T) {
	p := newTestProcessor(t)

	// Near-silence with activity: tiny tone for a long time.
	feedSine(p, 500, 0.005, 30)
	if p.LastAGCGain > p.cfg.AGCMaxGain {
		t.Errorf("gain %.2f above max %.2f", p.LastAGCGain, p.cfg.AGCMaxGain)
	}

	// Full-scale input for a long time.
	feedSine(p, 500, 0.99, 30)
	if p.LastAGCGain < p.cfg.AGCMinGain {
		t.Errorf("gain %.2f below min %.2f", p.LastAGCGain, p.cfg.AGCMinGain)
	}
}

func TestProcessorSilence(t *testing.T) {
	p := newTestProcessor(t)

	// Establish signal first.
	snap := feedSine(p, 500, 0.5, 2)
	if snap.IsSilent {
		t.Fatal("flagged silent during active signal")
	}
	gainBefore := p.LastAGCGain

	// Then true silence past the hold time.
	snap = feedSine(p, 500, 0, 3)
	if !snap.IsSilent {
		t.Error("not flagged silent after 3 s of zero input")
	}
	if snap.SilentScale01 > 0.1 {
		t.Errorf("SilentScale01 = %.2f after sustained silence, want near 0", snap.SilentScale01)
	}
	if snap.RMS > 0.05 {
		t.Errorf("RMS = %.3f during silence, want near 0", snap.RMS)
	}

	// AGC must not have crept upward chasing the noise floor.
	if p.LastAGCGain > gainBefore*1.5 {
		t.Errorf("gain rose from %.2f to %.2f during silence", gainBefore, p.LastAGCGain)
	}
}

func TestProcessorSilenceRecovery(t *testing.T) {
	p := newTestProcessor(t)
	feedSine(p, 500, 0, 3)

	snap := feedSine(p, 500, 0.5, 1)
	if snap.IsSilent {
		t.Error("still flagged silent 1 s after signal returned")
	}
	if snap.SilentScale01 < 0.5 {
		t.Errorf("SilentScale01 = %.2f, recovery should be faster than decay", snap.SilentScale01)
	}
}

func TestProcessorDualRateSmoothing(t *testing.T) {
	// After a step from silence to tone, the fast channel must be
	// ahead of the slow one.
	p := newTestProcessor(t)
	feedSine(p, 1000, 0.4, 2) // settle gain and floor
	feedSine(p, 1000, 0, 1)
	snap := feedSine(p, 1000, 0.4, 0.2)

	if snap.FastRMS <= snap.RMS {
		t.Errorf("FastRMS (%.3f) should lead RMS (%.3f) after a step", snap.FastRMS, snap.RMS)
	}
}

func TestProcessorBandsTrackContent(t *testing.T) {
	p := newTestProcessor(t)
	snap := feedSine(p, 1000, 0.5, 4)

	// 1 kHz is band 4; it should dominate the normalized output.
	peak := 0
	for i, b := range snap.Bands {
		if b > snap.Bands[peak] {
			peak = i
		}
	}
	if peak != 4 {
		t.Errorf("peak band = %d, want 4; bands=%v", peak, snap.Bands)
	}
}

func TestProcessorNoveltyOnOnset(t *testing.T) {
	// An onset after silence must produce positive novelty; steady
	// state must decay back toward zero.
	p := newTestProcessor(t)
	feedSine(p, 1000, 0.4, 2)
	feedSine(p, 1000, 0, 2)

	var snap Snapshot
	hop := make([]int32, testHopSize)
	n := 0
	var peakNovelty float64
	for h := 0; h < 8; h++ {
		for i := range hop {
			s := 0.5 * math.Sin(2*math.Pi*1000*float64(n)/testSampleRate)
			hop[i] = int32(s * math.MaxInt32)
			n++
		}
		nov := p.Process(hop, &snap)
		if v := nov.Flux + nov.Energy; v > peakNovelty {
			peakNovelty = v
		}
	}
	if peakNovelty <= 0 {
		t.Fatalf("no novelty on onset after silence")
	}

	// A second of steady tone; novelty should be small by the end.
	var last Novelty
	for h := 0; h < 60; h++ {
		for i := range hop {
			s := 0.5 * math.Sin(2*math.Pi*1000*float64(n)/testSampleRate)
			hop[i] = int32(s * math.MaxInt32)
			n++
		}
		last = p.Process(hop, &snap)
	}
	if last.Flux+last.Energy > peakNovelty/2 {
		t.Errorf("steady-state novelty %.3f not small vs onset peak %.3f",
			last.Flux+last.Energy, peakNovelty)
	}
}

func BenchmarkProcessorProcess(b *testing.B) {
	p, err := NewProcessor(config.New().Analysis, testSampleRate, testHopSize)
	if err != nil {
		b.Fatal(err)
	}
	hop := make([]int32, testHopSize)
	for i := range hop {
		hop[i] = int32(0.5 * math.Sin(2*math.Pi*440*float64(i)/testSampleRate) * math.MaxInt32)
	}
	var snap Snapshot

	for i := 0; i < b.N; i++ {
		p.Process(hop, &snap)
	}
}
