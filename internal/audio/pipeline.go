// SPDX-License-Identifier: MIT
/*
Package audio connects audio capture to the analysis pipeline:
- Lock-free capture via PortAudio
- Hop accumulation, per-hop DSP and tempo tracking
- Snapshot publication over a seqlock channel
- Offline analysis of WAV files through the same pipeline

Thread Safety:
- The pipeline runs entirely on the capture (or file-reader) goroutine
- Consumers read snapshots through bus.SnapshotChannel only
- Pre-allocated buffers keep the hot path free of GC
*/
package audio

import (
	"math"
	"sync/atomic"
	"time"

	"pulse/internal/analysis"
	"pulse/internal/bus"
	"pulse/internal/config"
	applog "pulse/internal/log"
	"pulse/internal/tempo"
)

// Pipeline is the capture-independent analysis core. Samples go in
// via Push; finished snapshots come out on the snapshot channel. The
// same pipeline serves live capture and offline WAV analysis, which
// keeps the two paths behaviorally identical.
//
// All methods must be called from a single goroutine.
type Pipeline struct {
	cfg     *config.Config
	acc     *analysis.HopAccumulator
	proc    *analysis.Processor
	tracker *tempo.Tracker
	channel *bus.SnapshotChannel

	snap       analysis.Snapshot
	hopSeconds float64
	hopBudget  time.Duration

	// Atomic mirrors of analyzer internals, refreshed once per hop so
	// diagnostics goroutines never touch the analyzer state directly.
	hops            atomic.Uint64
	overruns        atomic.Uint64
	onsetsAccepted  atomic.Uint64
	onsetsRejected  atomic.Uint64
	lockTransitions atomic.Uint64
	clipCount       atomic.Uint64
	lockState       atomic.Uint32
	agcGainBits     atomic.Uint64
	noiseFloorBits  atomic.Uint64
}

// Stats is a cross-goroutine view of analyzer internals for
// diagnostics output.
type Stats struct {
	Hops            uint64
	Overruns        uint64
	OnsetsAccepted  uint64
	OnsetsRejected  uint64
	LockTransitions uint64
	ClipCount       uint64
	LockState       tempo.LockState
	AGCGain         float64
	NoiseFloor      float64
}

// NewPipeline wires the analysis stages together. The channel may be
// shared with any number of readers.
func NewPipeline(cfg *config.Config, ch *bus.SnapshotChannel) (*Pipeline, error) {
	proc, err := analysis.NewProcessor(cfg.Analysis, cfg.Audio.SampleRate, cfg.Audio.HopSize)
	if err != nil {
		return nil, err
	}
	tracker, err := tempo.New(cfg.Tempo, cfg.HopRate())
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:        cfg,
		proc:       proc,
		tracker:    tracker,
		channel:    ch,
		hopSeconds: cfg.HopSeconds(),
		hopBudget:  time.Duration(cfg.HopSeconds() * float64(time.Second)),
	}
	p.acc = analysis.NewHopAccumulator(cfg.Audio.HopSize, p.processHop)
	return p, nil
}

// Push feeds mono samples into the hop accumulator. Complete hops are
// analyzed synchronously, so the caller's cadence sets the analysis
// cadence. Any slice length is accepted.
func (p *Pipeline) Push(samples []int32) {
	p.acc.Push(samples)
}

// Hops reports how many hops have been fully analyzed. Safe to call
// from any goroutine.
func (p *Pipeline) Hops() uint64 {
	return p.hops.Load()
}

// ReadStats returns the latest analyzer internals. Safe to call from
// any goroutine.
func (p *Pipeline) ReadStats() Stats {
	return Stats{
		Hops:            p.hops.Load(),
		Overruns:        p.overruns.Load(),
		OnsetsAccepted:  p.onsetsAccepted.Load(),
		OnsetsRejected:  p.onsetsRejected.Load(),
		LockTransitions: p.lockTransitions.Load(),
		ClipCount:       p.clipCount.Load(),
		LockState:       tempo.LockState(p.lockState.Load()),
		AGCGain:         math.Float64frombits(p.agcGainBits.Load()),
		NoiseFloor:      math.Float64frombits(p.noiseFloorBits.Load()),
	}
}

// Tracker exposes the tempo tracker for offline inspection after
// analysis finishes. Do not call its methods while capture is running.
func (p *Pipeline) Tracker() *tempo.Tracker {
	return p.tracker
}

// processHop runs one hop through DSP and tempo tracking, then
// publishes the resulting snapshot.
func (p *Pipeline) processHop(hop []int32) {
	start := time.Now()
	defer func() { p.noteHopDuration(time.Since(start)) }()

	novelty := p.proc.Process(hop, &p.snap)

	p.tracker.SetSilent(p.snap.IsSilent)
	out := p.tracker.Update(novelty.Flux, novelty.Energy, p.hopSeconds)
	p.snap.BPM = out.BPM
	p.snap.Confidence01 = out.Confidence01
	p.snap.BeatTick = out.BeatTick
	p.snap.DownbeatTick = out.DownbeatTick
	p.snap.PhaseAtHop01 = out.PhaseAtHop01

	// Clock time derived from the sample counter, not the wall clock,
	// so offline analysis produces the same timestamps as live capture.
	// The stamp marks the end of the hop just completed.
	hopEnd := (p.hops.Load() + 1) * uint64(p.cfg.Audio.HopSize)
	p.snap.TimestampMicros = uint64(float64(hopEnd) / p.cfg.Audio.SampleRate * 1e6)

	p.channel.Publish(&p.snap)

	p.hops.Add(1)
	p.onsetsAccepted.Store(p.tracker.OnsetsAccepted)
	p.onsetsRejected.Store(p.tracker.OnsetsRejected)
	p.lockTransitions.Store(p.tracker.LockTransitions)
	p.clipCount.Store(p.proc.ClipCount)
	p.lockState.Store(uint32(out.State))
	p.agcGainBits.Store(math.Float64bits(p.proc.LastAGCGain))
	p.noiseFloorBits.Store(math.Float64bits(p.proc.LastNoiseFlr))
}

// noteHopDuration counts hops whose processing time exceeded the hop
// period. An overrun means the analysis stole time from the capture
// callback; it is logged and counted, never fatal.
func (p *Pipeline) noteHopDuration(elapsed time.Duration) {
	if elapsed <= p.hopBudget {
		return
	}
	n := p.overruns.Add(1)
	applog.Warnf("audio: hop overrun %d: processing took %s of a %s budget",
		n, elapsed, p.hopBudget)
}
