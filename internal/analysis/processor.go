// SPDX-License-Identifier: MIT
/*
Package analysis turns raw capture samples into musical state.

The pipeline per hop: DC removal -> AGC -> Goertzel band/semitone
analysis -> chroma folding -> dual-rate smoothing -> novelty signals.
One Snapshot is produced per hop; the tempo tracker consumes the
novelty outputs separately.

All smoothing coefficients are derived per hop as alpha = dt/(tau+dt)
from real time constants, so tuning survives a sample-rate or hop-size
change.
*/
package analysis

import (
	"fmt"
	"math"

	"pulse/internal/config"
)

// Gate geometry relative to the tracked noise floor. The gate opens
// once pre-gain RMS clears a small multiple of the floor.
const (
	gateStartFactor = 2.0
	gateRangeFactor = 4.0
	gateRangeMin    = 0.002
)

// Spectral flux band weights favor low-frequency content, where kick
// and bass onsets live. Sum is 6.7.
var fluxWeights = [NumBands]float64{1.4, 1.3, 1.0, 0.9, 0.8, 0.6, 0.4, 0.3}

const fluxWeightSum = 6.7

// Novelty carries the tempo-facing onset signals for one hop. These
// are statistically normalized but deliberately not clamped: hard
// clamping before the resonator bank flattens exactly the peak
// structure tempo estimation depends on. UI-facing flux lives in the
// Snapshot instead and is clamped there.
type Novelty struct {
	Flux   float64 // Rectified, normalized spectral flux
	Energy float64 // Rectified, normalized RMS derivative
}

// runningStat tracks an exponential running mean and variance, used to
// standardize novelty against recent signal statistics.
type runningStat struct {
	mean     float64
	variance float64
	primed   bool
}

// observe folds v into the statistics and returns its z-score against
// the updated estimate.
func (s *runningStat) observe(v, alpha float64) float64 {
	if !s.primed {
		s.mean = v
		s.variance = 0
		s.primed = true
		return 0
	}
	d := v - s.mean
	s.mean += alpha * d
	s.variance += alpha * (d*d - s.variance)
	std := math.Sqrt(s.variance)
	if std < 1e-6 {
		std = 1e-6
	}
	return (v - s.mean) / std
}

// Processor runs the per-hop analysis. Owned exclusively by the
// analysis loop; all state lives here, nothing is shared.
type Processor struct {
	cfg        config.Analysis
	sampleRate float64
	hopSize    int
	dt         float64 // Hop period in seconds

	// Coefficients derived once from time constants.
	dcAlpha      float64 // Per sample
	alphaFast    float64
	alphaSlow    float64
	alphaStat    float64
	alphaAGCAtt  float64
	alphaAGCRel  float64
	alphaAGCIdle float64
	alphaRange   float64

	dcEstimate float64
	agcGain    float64
	noiseFloor float64

	bandBank   *BinBank
	chromaBank *BinBank

	centered     []float64
	bandRaw      []float64
	semitoneRaw  []float64
	chromaFolded [NumChroma]float64

	bandFollower   float64
	chromaFollower float64

	prevBands   [NumBands]float64
	prevFastRMS float64

	smRMSFast, smRMSSlow   float64
	smFluxFast, smFluxSlow float64
	smBands, smHeavyBands  [NumBands]float64
	smChroma, smHeavyChr   [NumChroma]float64

	fluxStat   runningStat
	energyStat runningStat

	silentFor   float64
	isSilent    bool
	silentScale float64

	// Observability, read by the engine's stats logging.
	ClipCount    uint64
	LastAGCGain  float64
	LastActivity float64
	LastRMSPre   float64
	LastDC       float64
	LastNoiseFlr float64
}

// NewProcessor builds the per-hop analysis pipeline.
func NewProcessor(cfg config.Analysis, sampleRate float64, hopSize int) (*Processor, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %g", sampleRate)
	}
	if hopSize <= 0 {
		return nil, fmt.Errorf("hop size must be positive, got %d", hopSize)
	}

	bandBank, err := NewBinBank(sampleRate, BandFreqs())
	if err != nil {
		return nil, fmt.Errorf("band bank: %w", err)
	}
	chromaBank, err := NewBinBank(sampleRate, SemitoneFreqs(64))
	if err != nil {
		return nil, fmt.Errorf("chroma bank: %w", err)
	}

	dt := float64(hopSize) / sampleRate
	dtSample := 1.0 / sampleRate

	p := &Processor{
		cfg:        cfg,
		sampleRate: sampleRate,
		hopSize:    hopSize,
		dt:         dt,

		dcAlpha:      alphaFor(dtSample, cfg.DCTau),
		alphaFast:    alphaFor(dt, cfg.TauFast),
		alphaSlow:    alphaFor(dt, cfg.TauSlow),
		alphaStat:    alphaFor(dt, cfg.NoveltyStatTau),
		alphaAGCAtt:  alphaFor(dt, cfg.AGCAttackTau),
		alphaAGCRel:  alphaFor(dt, cfg.AGCReleaseTau),
		alphaAGCIdle: alphaFor(dt, cfg.AGCIdleTau),
		alphaRange:   alphaFor(dt, cfg.AutorangeTau),

		agcGain:    1.0,
		noiseFloor: cfg.NoiseFloorMin,

		bandBank:   bandBank,
		chromaBank: chromaBank,

		centered:    make([]float64, hopSize),
		bandRaw:     make([]float64, bandBank.NumBins()),
		semitoneRaw: make([]float64, chromaBank.NumBins()),

		bandFollower:   cfg.AutorangeFloor,
		chromaFollower: cfg.AutorangeFloor,

		silentScale: 1.0,
		LastAGCGain: 1.0,
	}
	return p, nil
}

// alphaFor derives a single-pole coefficient from a time constant.
// tau <= 0 means no smoothing (alpha = 1).
func alphaFor(dt, tau float64) float64 {
	if tau <= 0 {
		return 1
	}
	return dt / (tau + dt)
}

// HopSeconds returns the hop period this processor was built for.
func (p *Processor) HopSeconds() float64 {
	return p.dt
}

// Process analyzes one hop, fills the feature fields of out, and
// returns the tempo-facing novelty. Tempo fields of out are left for
// the caller to fill from the tracker.
func (p *Processor) Process(hop []int32, out *Snapshot) Novelty {
	const normFactor = 1.0 / float64(1<<31)

	// DC removal and AGC in one pass. The DC estimate is a slow
	// running mean; the gain was settled on previous hops.
	gain := p.agcGain
	var sumSqPre float64
	clipped := 0
	for i, s := range hop {
		x := float64(s) * normFactor
		p.dcEstimate += p.dcAlpha * (x - p.dcEstimate)
		pre := x - p.dcEstimate
		sumSqPre += pre * pre

		y := pre * gain
		if y > 1 {
			y = 1
			clipped++
		} else if y < -1 {
			y = -1
			clipped++
		}
		p.centered[i] = y
	}
	rmsPre := math.Sqrt(sumSqPre / float64(len(hop)))
	p.ClipCount += uint64(clipped)
	p.LastRMSPre = rmsPre
	p.LastDC = p.dcEstimate

	activity := p.updateNoiseFloor(rmsPre)
	p.updateAGC(rmsPre, clipped, activity)

	// Post-gain RMS mapped into a perceptual 0..1 range, gated by
	// activity so floor noise does not register as loudness.
	var sumSq float64
	for _, y := range p.centered {
		sumSq += y * y
	}
	rmsMapped := mapLevelDb(math.Sqrt(sumSq/float64(len(p.centered))),
		p.cfg.RMSDbFloor, p.cfg.RMSDbCeil) * activity

	// Frequency analysis over the shared sample history.
	p.bandBank.Push(p.centered)
	p.chromaBank.Push(p.centered)
	p.bandBank.Magnitudes(p.bandRaw)
	p.chromaBank.Magnitudes(p.semitoneRaw)

	bands := p.normalizeBands()
	p.normalizeChroma()

	// Spectral flux: rectified frame-to-frame band derivative,
	// low-frequency weighted.
	var fluxRaw float64
	for i := range bands {
		if d := bands[i] - p.prevBands[i]; d > 0 {
			fluxRaw += fluxWeights[i] * d
		}
		p.prevBands[i] = bands[i]
	}
	fluxRaw /= fluxWeightSum

	// Dual-rate smoothing of every output channel.
	p.smRMSFast += p.alphaFast * (rmsMapped - p.smRMSFast)
	p.smRMSSlow += p.alphaSlow * (rmsMapped - p.smRMSSlow)

	fluxUI := clamp01(fluxRaw * p.cfg.FluxScale)
	p.smFluxFast += p.alphaFast * (fluxUI - p.smFluxFast)
	p.smFluxSlow += p.alphaSlow * (fluxUI - p.smFluxSlow)

	for i := range bands {
		p.smBands[i] += p.alphaFast * (bands[i] - p.smBands[i])
		p.smHeavyBands[i] += p.alphaSlow * (bands[i] - p.smHeavyBands[i])
	}
	for i := range p.chromaFolded {
		p.smChroma[i] += p.alphaFast * (p.chromaFolded[i] - p.smChroma[i])
		p.smHeavyChr[i] += p.alphaSlow * (p.chromaFolded[i] - p.smHeavyChr[i])
	}

	// Energy novelty: rectified derivative of the fast-smoothed RMS.
	energyRaw := p.smRMSFast - p.prevFastRMS
	if energyRaw < 0 {
		energyRaw = 0
	}
	p.prevFastRMS = p.smRMSFast

	// Tempo novelty is standardized against running statistics, on a
	// log scale so loud passages don't saturate it. No clamping here.
	nov := Novelty{
		Flux:   p.normalizeNovelty(&p.fluxStat, fluxRaw),
		Energy: p.normalizeNovelty(&p.energyStat, energyRaw),
	}

	p.updateSilence(rmsMapped)

	out.RMS = p.smRMSSlow
	out.FastRMS = p.smRMSFast
	out.Flux = p.smFluxSlow
	out.FastFlux = p.smFluxFast
	out.Bands = p.smBands
	out.HeavyBands = p.smHeavyBands
	out.Chroma = p.smChroma
	out.HeavyChroma = p.smHeavyChr
	out.IsSilent = p.isSilent
	out.SilentScale01 = p.silentScale

	return nov
}

// updateNoiseFloor tracks the ambient level and returns the activity
// gate value in [0,1]. The floor falls quickly, rises only while the
// signal looks like ambience (low level or poor SNR), and gets forced
// down if it ever strands itself above a clearly present signal.
func (p *Processor) updateNoiseFloor(rmsPre float64) float64 {
	cfg := &p.cfg
	if p.noiseFloor < cfg.NoiseFloorMin {
		p.noiseFloor = cfg.NoiseFloorMin
	}

	if rmsPre < p.noiseFloor {
		p.noiseFloor += cfg.NoiseFloorFall * (rmsPre - p.noiseFloor)
	} else {
		snr := rmsPre / math.Max(p.noiseFloor, 1e-4)
		if rmsPre <= cfg.SilenceRMS || snr < 3.0 {
			p.noiseFloor += cfg.NoiseFloorRise * (rmsPre - p.noiseFloor)
		}
		// SNR >= 3: signal clearly present, floor frozen.
	}

	gateStart := p.noiseFloor * gateStartFactor
	gateRange := math.Max(gateRangeMin, p.noiseFloor*gateRangeFactor)
	activity := clamp01((rmsPre - gateStart) / gateRange)

	// Stuck-floor recovery: gate closed but signal well above the
	// minimum floor means the floor has drifted onto real audio.
	if activity < 0.01 && rmsPre > cfg.NoiseFloorMin*3 && rmsPre > p.noiseFloor {
		p.noiseFloor += (cfg.NoiseFloorFall * 10) * (rmsPre*0.8 - p.noiseFloor)
		gateStart = p.noiseFloor * gateStartFactor
		gateRange = math.Max(gateRangeMin, p.noiseFloor*gateRangeFactor)
		activity = clamp01((rmsPre - gateStart) / gateRange)
	}

	p.LastNoiseFlr = p.noiseFloor
	p.LastActivity = activity
	return activity
}

// updateAGC converges the gain toward the loudness target with fast
// attack and slow release. Adaptation is frozen entirely during
// confirmed silence so the gain doesn't wander up onto room noise.
func (p *Processor) updateAGC(rmsPre float64, clipped int, activity float64) {
	cfg := &p.cfg
	switch {
	case p.isSilent:
		// Frozen.
	case clipped > 0:
		p.agcGain *= cfg.AGCClipReduce
	case activity <= 0:
		p.agcGain += p.alphaAGCIdle * (1.0 - p.agcGain)
	default:
		desired := cfg.AGCTargetRMS / (rmsPre + 1e-6)
		if desired < cfg.AGCMinGain {
			desired = cfg.AGCMinGain
		}
		if desired > cfg.AGCMaxGain {
			desired = cfg.AGCMaxGain
		}
		alpha := p.alphaAGCRel
		if desired > p.agcGain {
			alpha = p.alphaAGCAtt
		}
		p.agcGain += alpha * (desired - p.agcGain)
	}

	if p.agcGain < cfg.AGCMinGain {
		p.agcGain = cfg.AGCMinGain
	}
	if p.agcGain > cfg.AGCMaxGain {
		p.agcGain = cfg.AGCMaxGain
	}
	p.LastAGCGain = p.agcGain
}

// normalizeBands autoranges the raw band magnitudes into 0..1.
func (p *Processor) normalizeBands() [NumBands]float64 {
	var maxMag float64
	for _, m := range p.bandRaw {
		if m > maxMag {
			maxMag = m
		}
	}
	p.bandFollower += p.alphaRange * (maxMag - p.bandFollower)
	if p.bandFollower < p.cfg.AutorangeFloor {
		p.bandFollower = p.cfg.AutorangeFloor
	}

	var out [NumBands]float64
	for i, m := range p.bandRaw {
		out[i] = clamp01(m / p.bandFollower)
	}
	return out
}

func (p *Processor) normalizeChroma() {
	FoldChroma(p.semitoneRaw, &p.chromaFolded)

	var maxMag float64
	for _, m := range p.chromaFolded {
		if m > maxMag {
			maxMag = m
		}
	}
	p.chromaFollower += p.alphaRange * (maxMag - p.chromaFollower)
	if p.chromaFollower < p.cfg.AutorangeFloor {
		p.chromaFollower = p.cfg.AutorangeFloor
	}
	for i := range p.chromaFolded {
		p.chromaFolded[i] = clamp01(p.chromaFolded[i] / p.chromaFollower)
	}
}

// normalizeNovelty maps a raw novelty value onto a log scale, then
// standardizes it against the running statistics. Only positive
// excursions count; routine fluctuation maps to zero.
func (p *Processor) normalizeNovelty(stat *runningStat, raw float64) float64 {
	z := stat.observe(math.Log1p(raw*16), p.alphaStat)
	if z < 0 {
		return 0
	}
	return z * p.cfg.NoveltyZScale
}

func (p *Processor) updateSilence(rmsMapped float64) {
	if rmsMapped < p.cfg.SilenceRMS {
		p.silentFor += p.dt
	} else {
		p.silentFor = 0
	}
	p.isSilent = p.silentFor >= p.cfg.SilenceHold

	if p.isSilent {
		p.silentScale += alphaFor(p.dt, p.cfg.SilenceTau) * (0 - p.silentScale)
	} else {
		p.silentScale += alphaFor(p.dt, p.cfg.SilenceTau/4) * (1 - p.silentScale)
	}
}

// mapLevelDb maps a linear RMS value onto a perceptual 0..1 range
// between a dB floor and ceiling.
func mapLevelDb(rms, floorDb, ceilDb float64) float64 {
	if rms <= 0 {
		return 0
	}
	db := 20 * math.Log10(rms)
	return clamp01((db - floorDb) / (ceilDb - floorDb))
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
