// SPDX-License-Identifier: MIT
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pulse/cmd"
	"pulse/internal/analysis"
	"pulse/internal/audio"
	"pulse/internal/bus"
	"pulse/internal/clock"
	"pulse/internal/config"
	applog "pulse/internal/log"
	"pulse/internal/transport"
	"pulse/pkg/build"
)

// main is the entry point. The program flow has three phases:
//
// 1. Startup Phase (Cold Path):
//   - Load build information and configuration
//   - Execute one-off commands (list, analyze) if requested
//   - Initialize PortAudio for live capture
//
// 2. Concurrent Phase (Hot Path):
//   - The capture callback drives the analysis pipeline
//   - The render loop consumes snapshots through the beat clock
//   - Diagnostic transports tap the snapshot channel
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals
//   - Stop recording if active, close transports and the engine
func main() {
	build.Initialize()

	cfg, err := cmd.ParseArgs()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if cfg.Debug {
		applog.SetLevel(applog.LevelDebug)
	} else if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	}

	switch cfg.Command {
	case "list":
		if err := withPortAudio(audio.ListDevices); err != nil {
			applog.Fatalf("%v", err)
		}
		return
	case "analyze":
		if err := runAnalyze(cfg); err != nil {
			applog.Fatalf("%v", err)
		}
		return
	}

	if err := withPortAudio(func() error { return runLive(cfg) }); err != nil {
		applog.Fatalf("%v", err)
	}
}

func withPortAudio(fn func() error) error {
	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()
	return fn()
}

// runAnalyze pushes a WAV file through the full pipeline as fast as it
// decodes and prints the resulting tempo estimate.
func runAnalyze(cfg *config.Config) error {
	sampleRate, channels, bitDepth, err := audio.WAVInfo(cfg.AnalyzePath)
	if err != nil {
		return err
	}
	applog.Infof("analyze: %s (%d Hz, %d ch, %d bit)",
		cfg.AnalyzePath, sampleRate, channels, bitDepth)

	// Analysis follows the file's clock, not the configured one.
	cfg.Audio.SampleRate = float64(sampleRate)
	if err := cfg.Validate(); err != nil {
		return err
	}

	channel := &bus.SnapshotChannel{}
	pipeline, err := audio.NewPipeline(cfg, channel)
	if err != nil {
		return err
	}

	frames, err := audio.AnalyzeWAVFile(pipeline, cfg.AnalyzePath)
	if err != nil {
		return err
	}

	stats := pipeline.ReadStats()
	var snap analysis.Snapshot
	channel.ReadLatest(&snap)

	seconds := float64(frames) / cfg.Audio.SampleRate
	fmt.Printf("\n%s\n", cfg.AnalyzePath)
	fmt.Printf("  duration:    %.1f s (%d hops)\n", seconds, stats.Hops)
	fmt.Printf("  tempo:       %.1f BPM (%s)\n", snap.BPM, stats.LockState)
	fmt.Printf("  confidence:  %.2f\n", snap.Confidence01)
	fmt.Printf("  onsets:      %d accepted, %d rejected\n",
		stats.OnsetsAccepted, stats.OnsetsRejected)
	return nil
}

// runLive captures from the configured device until interrupted.
func runLive(cfg *config.Config) error {
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	channel := &bus.SnapshotChannel{}
	pipeline, err := audio.NewPipeline(cfg, channel)
	if err != nil {
		return err
	}

	engine, err := audio.NewEngine(cfg, pipeline)
	if err != nil {
		return err
	}

	// First StartInputStream call starts the hot path: from here on
	// PortAudio drives the pipeline from its callback thread.
	if err := engine.StartInputStream(); err != nil {
		return err
	}

	if cfg.Record {
		if err := engine.StartRecording(cfg.OutputFile); err != nil {
			engine.Close()
			return err
		}
	}

	stop := make(chan struct{})
	go diagnosticsLoop(cfg, pipeline, channel, stop)
	go renderLoop(cfg, channel, stop)

	<-done
	close(stop)

	if cfg.Record {
		if err := engine.StopRecording(); err != nil {
			applog.Errorf("stopping recording: %v", err)
		} else {
			fmt.Printf("\nRecording saved to: %s\n", cfg.OutputFile)
		}
	}

	return engine.Close()
}

// renderLoop stands in for a real renderer: it runs the beat clock at
// the configured frame rate and logs a status line periodically.
func renderLoop(cfg *config.Config, channel *bus.SnapshotChannel, stop <-chan struct{}) {
	beatClock := clock.New(cfg.Clock)
	ticker := time.NewTicker(time.Second / time.Duration(cfg.Render.FrameRate))
	defer ticker.Stop()

	statsEvery := time.Duration(cfg.Diag.StatsInterval * float64(time.Second))
	var lastStats time.Time
	var snap analysis.Snapshot
	last := time.Now()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now

			var frame clock.Frame
			if channel.ReadLatest(&snap) {
				frame = beatClock.Tick(&snap, dt)
			} else {
				frame = beatClock.Tick(nil, dt)
			}

			if statsEvery > 0 && now.Sub(lastStats) >= statsEvery {
				lastStats = now
				applog.Infof("render: bpm=%.1f phase=%.2f beat=%d conf=%.2f coasting=%v",
					frame.BPM, frame.Phase01, frame.BeatCount, frame.Confidence01, frame.Coasting)
			}
		}
	}
}

// diagnosticsLoop pumps frames to the enabled transports at a modest
// rate. Transports are taps: nothing here feeds back into analysis.
func diagnosticsLoop(cfg *config.Config, pipeline *audio.Pipeline, channel *bus.SnapshotChannel, stop <-chan struct{}) {
	var transports []transport.Transport
	if cfg.Diag.WebSocketEnabled {
		transports = append(transports, transport.NewWebSocketTransport(cfg.Diag.WebSocketAddr, 30))
	}
	if cfg.Debug {
		transports = append(transports, transport.NewLoggingTransport())
	}
	if len(transports) == 0 {
		return
	}
	defer func() {
		for _, t := range transports {
			t.Close()
		}
	}()

	ticker := time.NewTicker(time.Second / 30)
	defer ticker.Stop()

	var snap analysis.Snapshot
	var frame transport.Frame
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !channel.ReadLatest(&snap) {
				continue
			}
			stats := pipeline.ReadStats()
			frame = transport.Frame{
				Snapshot:        snap,
				LockState:       stats.LockState.String(),
				OnsetsAccepted:  stats.OnsetsAccepted,
				OnsetsRejected:  stats.OnsetsRejected,
				LockTransitions: stats.LockTransitions,
				AGCGain:         stats.AGCGain,
				NoiseFloor:      stats.NoiseFloor,
				ClipCount:       stats.ClipCount,
				Hops:            stats.Hops,
				Overruns:        stats.Overruns,
			}
			for _, t := range transports {
				if err := t.Send(&frame); err != nil {
					applog.Warnf("diagnostics send: %v", err)
				}
			}
		}
	}
}
