// SPDX-License-Identifier: MIT
/*
Package tempo estimates tempo from the novelty signals the analysis
pipeline produces and emits beat events with a confidence score.

The estimator is a bank of Goertzel resonators, one per 1-BPM candidate
tempo, run over a decaying history of normalized novelty. Tempos whose
period matches recurring novelty peaks accumulate more response. A lock
state machine gates beat emission: ticks only fire after a candidate
tempo has survived a verification window.

The tracker is owned exclusively by the analysis loop.
*/
package tempo

import (
	"fmt"
	"math"

	"pulse/internal/config"
	applog "pulse/internal/log"
)

// LockState describes how much the tracker trusts its tempo estimate.
type LockState uint8

const (
	// Unlocked: no trusted tempo. Expected steady state during intros,
	// silence, and arrhythmic passages. Not an error.
	Unlocked LockState = iota
	// Pending: a stable candidate is waiting out the verification window.
	Pending
	// Verified: the candidate survived verification; beat ticks flow.
	Verified
)

func (s LockState) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case Pending:
		return "pending"
	case Verified:
		return "verified"
	default:
		return "unknown"
	}
}

// Output is the tempo estimate for one hop.
type Output struct {
	BPM          float64
	Confidence01 float64
	BeatTick     bool
	DownbeatTick bool
	PhaseAtHop01 float64 // Winning resonator's phase estimate, [0,1)
	State        LockState
}

// Resonator magnitudes below this are treated as silent bins: they
// decay instead of being smoothed in, and don't count toward agreement.
const activeBinFloor = 0.005

type resonator struct {
	bpm    float64
	hz     float64
	coeff  float64 // 2*cos(2*pi*hz/hopRate)
	sine   float64
	cosine float64
	phase  float64 // Extracted phase, radians
	magRaw float64
	mag    float64 // Autoranged, quartic-scaled
}

// Tracker holds all tempo estimation state.
type Tracker struct {
	cfg     config.Tempo
	hopRate float64

	bins   []resonator
	smooth []float64

	fluxHist   []float64
	energyHist []float64
	histIdx    int
	histFilled int

	fluxScale   float64
	energyScale float64
	alphaScale  float64
	alphaSmooth float64

	// Onset gating state.
	now              float64
	lastAccepted     float64
	minOnsetInterval float64
	onsetMean        float64
	onsetVar         float64

	winner         int
	candidate      int
	candidateHops  int
	stableBin      int
	stableHops     int
	state          LockState
	pendingSince   float64
	lockedBin      int
	conf           float64
	powerSum       float64
	lastPhase      float64
	lastTickAt     float64
	beatCount      uint64
	silent         bool
	silenceLevel   float64
	extSilent      bool

	// Diagnostics counters, read externally between updates.
	OnsetsAccepted  uint64
	OnsetsRejected  uint64
	LockTransitions uint64
}

// New builds a tracker for the given hop rate (novelty updates per
// second). The resonator coefficients are derived from it once.
func New(cfg config.Tempo, hopRate float64) (*Tracker, error) {
	if hopRate <= 0 {
		return nil, fmt.Errorf("hop rate must be positive, got %g", hopRate)
	}
	if cfg.BPMMin <= 0 || cfg.BPMMax <= cfg.BPMMin {
		return nil, fmt.Errorf("bpm range [%g, %g] invalid", cfg.BPMMin, cfg.BPMMax)
	}

	numBins := int(cfg.BPMMax-cfg.BPMMin) + 1
	bins := make([]resonator, numBins)
	for i := range bins {
		bpm := cfg.BPMMin + float64(i)
		hz := bpm / 60
		w := 2 * math.Pi * hz / hopRate
		bins[i] = resonator{
			bpm:    bpm,
			hz:     hz,
			coeff:  2 * math.Cos(w),
			sine:   math.Sin(w),
			cosine: math.Cos(w),
		}
	}

	minInterval := cfg.MinOnsetInterval
	if minInterval <= 0 {
		// The fastest plausible beat defines the gate floor.
		minInterval = 60 / cfg.BPMMax
	}

	dt := 1 / hopRate
	t := &Tracker{
		cfg:              cfg,
		hopRate:          hopRate,
		bins:             bins,
		smooth:           make([]float64, numBins),
		fluxHist:         make([]float64, cfg.HistoryLen),
		energyHist:       make([]float64, cfg.HistoryLen),
		fluxScale:        1,
		energyScale:      1,
		alphaScale:       dt / (cfg.ScaleTau + dt),
		alphaSmooth:      dt / (cfg.SmoothTau + dt),
		minOnsetInterval: minInterval,
		winner:           numBins / 2,
		candidate:        numBins / 2,
		stableBin:        numBins / 2,
		lockedBin:        numBins / 2,
	}
	return t, nil
}

// State returns the current lock state.
func (t *Tracker) State() LockState {
	return t.state
}

// SetSilent feeds the level analyzer's silence verdict into the
// tracker. The history rings decay too slowly to notice silence on
// their own within a musical timescale; the level side knows first.
func (t *Tracker) SetSilent(silent bool) {
	t.extSilent = silent
}

// Update consumes one hop's novelty and returns the tempo estimate.
// dt is the elapsed time since the previous update in seconds.
func (t *Tracker) Update(noveltyFlux, noveltyEnergy, dt float64) Output {
	t.now += dt

	t.ingest(noveltyFlux, noveltyEnergy)
	t.updateScales()
	t.runResonators()
	t.checkSilence()
	t.updateConfidence()
	t.updateWinner()
	t.updateLock()
	beat, downbeat := t.advancePhase(dt)

	out := Output{
		BPM:          t.bins[t.winner].bpm,
		Confidence01: t.conf,
		PhaseAtHop01: math.Mod((t.bins[t.winner].phase+math.Pi)/(2*math.Pi), 1),
		State:        t.state,
	}
	// Ticks are gated on verification: an unverified candidate never
	// pulses the renderer.
	if t.state == Verified && !t.silent {
		out.BeatTick = beat
		out.DownbeatTick = downbeat
	}
	return out
}

// ingest applies the minimum-inter-onset gate and writes the hop's
// novelty into the history rings. Onset candidates arriving faster
// than the fastest plausible beat are attenuated rather than recorded
// at full strength, so percussive subdivisions (hi-hats and the like)
// cannot poison the beat-scale estimate. Only accepted beat-scale
// onsets move the reference timer.
func (t *Tracker) ingest(nf, ne float64) {
	// Fade old events so stale onsets stop steering the bank.
	decay := t.cfg.NoveltyDecay
	for i := range t.fluxHist {
		t.fluxHist[i] *= decay
		t.energyHist[i] *= decay
	}

	combined := 0.5*nf + 0.5*ne

	// Adaptive onset threshold: mean + 1.5 sigma of recent novelty.
	d := combined - t.onsetMean
	t.onsetMean += t.alphaScale * d
	t.onsetVar += t.alphaScale * (d*d - t.onsetVar)
	threshold := t.onsetMean + 1.5*math.Sqrt(t.onsetVar)

	weight := 1.0
	if combined > threshold && combined > 0.05 {
		if t.now-t.lastAccepted < t.minOnsetInterval {
			weight = t.cfg.RejectedGain
			t.OnsetsRejected++
		} else {
			t.lastAccepted = t.now
			t.OnsetsAccepted++
		}
	}

	t.fluxHist[t.histIdx] = nf * weight
	t.energyHist[t.histIdx] = ne * weight
	t.histIdx = (t.histIdx + 1) % len(t.fluxHist)
	if t.histFilled < len(t.fluxHist) {
		t.histFilled++
	}
}

// updateScales tracks normalization for both history rings so the
// resonator input stays in a stable range regardless of program level.
func (t *Tracker) updateScales() {
	t.fluxScale += t.alphaScale * (targetScale(t.fluxHist) - t.fluxScale)
	t.energyScale += t.alphaScale * (targetScale(t.energyHist) - t.energyScale)
}

func targetScale(hist []float64) float64 {
	var max float64
	for _, v := range hist {
		if v > max {
			max = v
		}
	}
	if max < 1e-6 {
		return 1
	}
	return 1 / (max * 0.5)
}

// runResonators runs every Goertzel bin over the hybrid novelty
// history and refreshes smoothed magnitudes and the agreement power
// sum. The hybrid input mixes spectral flux (transients) and energy
// derivative (sustained swells) equally.
func (t *Tracker) runResonators() {
	n := t.histFilled
	if n < 2 {
		return
	}
	start := (t.histIdx - n + len(t.fluxHist)) % len(t.fluxHist)

	for b := range t.bins {
		bin := &t.bins[b]
		var q1, q2 float64
		for i := 0; i < n; i++ {
			idx := (start + i) % len(t.fluxHist)
			f := clamp01(t.fluxHist[idx] * t.fluxScale)
			e := clamp01(t.energyHist[idx] * t.energyScale)
			sample := 0.5*f + 0.5*e

			q0 := bin.coeff*q1 - q2 + sample
			q2 = q1
			q1 = q0
		}

		re := q1 - q2*bin.cosine
		im := q2 * bin.sine

		// Small phase lead so visuals land slightly ahead of the beat.
		phase := math.Atan2(im, re) + math.Pi*t.cfg.BeatShiftFraction
		if phase > math.Pi {
			phase -= 2 * math.Pi
		} else if phase < -math.Pi {
			phase += 2 * math.Pi
		}
		bin.phase = phase

		magSq := q1*q1 + q2*q2 - q1*q2*bin.coeff
		if magSq < 0 {
			magSq = 0
		}
		bin.magRaw = math.Sqrt(magSq) / (float64(n) / 2)
	}

	// Autorange across bins, then quartic scaling so the dominant
	// tempo stands out before smoothing.
	maxRaw := 0.01
	for b := range t.bins {
		if t.bins[b].magRaw > maxRaw {
			maxRaw = t.bins[b].magRaw
		}
	}
	t.powerSum = 1e-8
	for b := range t.bins {
		scaled := t.bins[b].magRaw / maxRaw
		scaled = scaled * scaled
		scaled = scaled * scaled
		t.bins[b].mag = scaled

		if scaled > activeBinFloor {
			t.smooth[b] += t.alphaSmooth * (scaled - t.smooth[b])
			t.powerSum += t.smooth[b]
		} else {
			t.smooth[b] *= 0.995
		}
	}
}

// checkSilence inspects the contrast of the normalized flux history.
// A flat history (no peaks above the noise bed) means there is nothing
// rhythmic to lock onto, whatever the resonators currently say.
func (t *Tracker) checkSilence() {
	if t.extSilent || t.histFilled == 0 {
		t.silent = true
		t.silenceLevel = 1
		return
	}
	minV, maxV := math.Inf(1), 0.0
	for _, v := range t.fluxHist[:t.histFilled] {
		s := clamp01(v * t.fluxScale)
		if s < minV {
			minV = s
		}
		if s > maxV {
			maxV = s
		}
	}
	contrast := maxV - minV
	if contrast < t.cfg.SilenceContrast {
		t.silent = true
		t.silenceLevel = 1 - contrast/t.cfg.SilenceContrast
	} else {
		t.silent = false
		t.silenceLevel = 0
	}
}

// updateConfidence scores how concentrated the smoothed resonator
// energy is around the winning bin. Neighboring bins agree with the
// winner (a real tempo excites a narrow neighborhood), so they count
// toward confidence; energy far from the winner counts against it.
// This is deliberately not the winner's raw magnitude: a saturated
// bank with energy everywhere must score low.
func (t *Tracker) updateConfidence() {
	if t.powerSum <= 0.01 {
		t.conf = 0
		return
	}
	w := t.cfg.ConfidenceWindow
	windowSum := t.windowEnergy(t.winner, w)
	// The winner's first harmonic rides the same pulse: every onset on
	// the beat also falls on the half-beat grid, so energy at double
	// tempo agrees with the winner instead of competing with it.
	if harm := t.binAt(t.bins[t.winner].bpm * 2); harm >= 0 {
		windowSum += 0.5 * t.windowEnergy(harm, w)
	}
	conf := windowSum / t.powerSum
	if t.silent {
		conf *= 1 - t.silenceLevel
	}
	t.conf = clamp01(conf)
}

// updateWinner selects the strongest bin with hysteresis, applying a
// soft prior around the locked tempo. The prior is a multiplicative
// bonus, never a hard constraint, so a genuinely stronger tempo can
// always displace the lock.
func (t *Tracker) updateWinner() {
	best, bestMag := 0, 0.0
	for b := range t.smooth {
		eff := t.smooth[b] * t.priorWeight(b)
		if eff > bestMag {
			bestMag = eff
			best = b
		}
	}

	// Sub-harmonic check: a click train at tempo f excites the 2f
	// resonator just as hard, and nothing else distinguishes them
	// before a lock exists. When the bin at half the leader's tempo
	// holds comparable energy, the slower bin is the beat and the
	// leader its subdivision.
	if half := t.binAt(t.bins[best].bpm / 2); half >= 0 {
		hb, hm := -1, 0.0
		for b := half - 1; b <= half+1; b++ {
			if b >= 0 && b < len(t.smooth) {
				if eff := t.smooth[b] * t.priorWeight(b); eff > hm {
					hm, hb = eff, b
				}
			}
		}
		if hb >= 0 && hm >= bestMag*t.cfg.SubharmonicRatio {
			best, bestMag = hb, hm
		}
	}

	if best != t.winner {
		current := t.smooth[t.winner] * t.priorWeight(t.winner)
		if bestMag > current*t.cfg.HysteresisAdvantage {
			if best == t.candidate {
				t.candidateHops++
				if t.candidateHops >= t.cfg.HysteresisHops {
					t.winner = best
					t.candidateHops = 0
				}
			} else {
				t.candidate = best
				t.candidateHops = 1
			}
		} else {
			t.candidateHops = 0
		}
	} else {
		t.candidateHops = 0
	}

	// Winner stability run length, consumed by the lock machine.
	if t.winner == t.stableBin {
		t.stableHops++
	} else {
		t.stableBin = t.winner
		t.stableHops = 0
	}
}

// priorWeight biases selection toward the locked tempo to suppress
// octave errors and jitter while a lock exists.
func (t *Tracker) priorWeight(b int) float64 {
	if t.state == Unlocked {
		return 1
	}
	d := (t.bins[b].bpm - t.bins[t.lockedBin].bpm) / t.cfg.PriorWidthBPM
	return 1 + t.cfg.PriorBonus*math.Exp(-0.5*d*d)
}

// binAt maps a BPM value to its bin index, or -1 when out of range.
func (t *Tracker) binAt(bpm float64) int {
	b := int(math.Round(bpm - t.cfg.BPMMin))
	if b < 0 || b >= len(t.bins) {
		return -1
	}
	return b
}

func (t *Tracker) windowEnergy(center, w int) float64 {
	var sum float64
	for b := center - w; b <= center+w; b++ {
		if b >= 0 && b < len(t.smooth) {
			sum += t.smooth[b]
		}
	}
	return sum
}

// updateLock runs the three-state lock machine.
func (t *Tracker) updateLock() {
	switch t.state {
	case Unlocked:
		if t.conf >= t.cfg.LockThreshold && t.stableHops >= t.cfg.StableHops && !t.silent {
			t.transition(Pending)
			t.pendingSince = t.now
			t.lockedBin = t.winner
		}

	case Pending:
		switch {
		case t.silent || t.conf < t.cfg.UnlockThreshold:
			t.transition(Unlocked)
		case math.Abs(t.bins[t.winner].bpm-t.bins[t.lockedBin].bpm) > t.cfg.JumpLimitBPM:
			// The candidate fell apart; start over.
			t.transition(Unlocked)
		default:
			if t.now-t.pendingSince >= t.cfg.VerifyWindow {
				// Re-center the reference on the winner at verification
				// time. It stays fixed from here: the jump exit measures
				// drift against the verified tempo, not last hop's
				// winner, so a slow walk across the limit still fires.
				t.lockedBin = t.winner
				t.transition(Verified)
			}
		}

	case Verified:
		switch {
		case t.silent:
			t.transition(Unlocked)
		case t.conf < t.cfg.UnlockThreshold:
			t.transition(Unlocked)
		case math.Abs(t.bins[t.winner].bpm-t.bins[t.lockedBin].bpm) > t.cfg.JumpLimitBPM:
			// Musical context changed; re-verify from scratch.
			t.transition(Unlocked)
		}
	}
}

func (t *Tracker) transition(next LockState) {
	applog.Debugf("tempo: %s -> %s (bpm=%.1f conf=%.2f)",
		t.state, next, t.bins[t.winner].bpm, t.conf)
	t.state = next
	t.LockTransitions++
}

// advancePhase integrates the winner's phase and detects beat ticks on
// the negative-to-positive zero crossing of its beat signal, debounced
// to 60% of the beat period.
func (t *Tracker) advancePhase(dt float64) (beat, downbeat bool) {
	win := &t.bins[t.winner]

	last := t.lastPhase
	phase := win.phase + 2*math.Pi*win.hz*dt
	if phase > math.Pi {
		phase -= 2 * math.Pi
	}
	win.phase = phase
	t.lastPhase = phase

	if last < 0 && phase >= 0 {
		period := 60 / win.bpm
		if t.now-t.lastTickAt >= period*0.6 {
			t.lastTickAt = t.now
			t.beatCount++
			beat = true
			// Fixed 4-beats-per-bar until bar-length detection exists.
			downbeat = t.beatCount%4 == 1
		}
	}
	return beat, downbeat
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
