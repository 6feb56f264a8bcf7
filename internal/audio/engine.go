// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gordonklaus/portaudio"

	"pulse/internal/config"
	applog "pulse/internal/log"
)

// Engine owns the PortAudio input stream and drives the pipeline from
// the capture callback. It can optionally mirror captured audio to a
// WAV file for offline replay through AnalyzeWAV.
type Engine struct {
	config   *config.Config
	pipeline *Pipeline

	inputDevice  *portaudio.DeviceInfo
	inputLatency time.Duration
	inputStream  *portaudio.Stream
	monoBuffer   []int32

	// Recording state and buffers.
	isRecording int32 // Atomic flag for thread-safe state
	outputFile  *os.File
	wavEncoder  *wav.Encoder
	sampleBuf   *goaudio.IntBuffer
}

func NewEngine(cfg *config.Config, pipeline *Pipeline) (*Engine, error) {
	inputDevice, err := InputDevice(cfg.Audio.DeviceID)
	if err != nil {
		return nil, err
	}
	if inputDevice.MaxInputChannels < 1 {
		return nil, fmt.Errorf("device %q has no input channels", inputDevice.Name)
	}

	e := &Engine{
		config:      cfg,
		pipeline:    pipeline,
		inputDevice: inputDevice,
		monoBuffer:  make([]int32, cfg.Audio.HopSize),
	}

	if cfg.Audio.LowLatency {
		e.inputLatency = inputDevice.DefaultLowInputLatency
	} else {
		e.inputLatency = inputDevice.DefaultHighInputLatency
	}

	applog.Infof("audio: device=%q rate=%.0fHz hop=%d latency=%s",
		inputDevice.Name, cfg.Audio.SampleRate, cfg.Audio.HopSize, e.inputLatency)

	return e, nil
}

func (e *Engine) StartInputStream() error {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: e.config.Audio.Channels,
			Device:   e.inputDevice,
			Latency:  e.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // Capture only
			Device:   nil,
		},
		FramesPerBuffer: e.config.Audio.HopSize,
		SampleRate:      e.config.Audio.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, e.processInputStream)
	if err != nil {
		return err
	}
	e.inputStream = stream

	if err := e.inputStream.Start(); err != nil {
		e.inputStream.Close()
		return err
	}

	return nil
}

func (e *Engine) StopInputStream() error {
	if e.inputStream != nil {
		if err := e.inputStream.Stop(); err != nil {
			return err
		}

		if err := e.inputStream.Close(); err != nil {
			return err
		}

		e.inputStream = nil
	}

	return nil
}

// processInputStream is the capture callback.
// Performance Critical:
// - Runs in a dedicated OS thread (LockOSThread)
// - Uses pre-allocated buffers only
// - No dynamic allocations in the hot path
func (e *Engine) processInputStream(in []int32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	mono := in
	if e.config.Audio.Channels > 1 {
		// First channel only. Downmixing by averaging would halve
		// transient energy on out-of-phase material.
		frames := len(in) / e.config.Audio.Channels
		if frames > len(e.monoBuffer) {
			frames = len(e.monoBuffer)
		}
		for i := 0; i < frames; i++ {
			e.monoBuffer[i] = in[i*e.config.Audio.Channels]
		}
		mono = e.monoBuffer[:frames]
	}

	e.pipeline.Push(mono)

	if atomic.LoadInt32(&e.isRecording) == 1 && e.wavEncoder != nil {
		for i, sample := range in {
			e.sampleBuf.Data[i] = int(sample)
		}
		e.sampleBuf.Data = e.sampleBuf.Data[:len(in)]

		if err := e.wavEncoder.Write(e.sampleBuf); err != nil {
			applog.Errorf("audio: wav write: %v", err)
		}
	}
}

// StartRecording mirrors the raw capture to a 32-bit WAV file.
func (e *Engine) StartRecording(filename string) error {
	if atomic.LoadInt32(&e.isRecording) == 1 {
		return fmt.Errorf("already recording")
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	e.outputFile = file

	e.wavEncoder = wav.NewEncoder(file, int(e.config.Audio.SampleRate),
		32, e.config.Audio.Channels, 1)

	e.sampleBuf = &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: e.config.Audio.Channels,
			SampleRate:  int(e.config.Audio.SampleRate),
		},
		Data: make([]int, e.config.Audio.HopSize*e.config.Audio.Channels),
	}

	atomic.StoreInt32(&e.isRecording, 1)
	applog.Infof("audio: recording to %s", filename)

	return nil
}

func (e *Engine) StopRecording() error {
	if atomic.LoadInt32(&e.isRecording) == 0 {
		return nil
	}

	atomic.StoreInt32(&e.isRecording, 0)

	if e.wavEncoder != nil {
		if err := e.wavEncoder.Close(); err != nil {
			return err
		}
		e.wavEncoder = nil
	}

	if e.outputFile != nil {
		if err := e.outputFile.Close(); err != nil {
			return err
		}
		e.outputFile = nil
	}

	return nil
}

func (e *Engine) Close() error {
	if atomic.LoadInt32(&e.isRecording) == 1 {
		if err := e.StopRecording(); err != nil {
			return err
		}
	}

	return e.StopInputStream()
}
