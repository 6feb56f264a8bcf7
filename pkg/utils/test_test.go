// SPDX-License-Identifier: MIT
package utils

import (
	"math"
	"testing"

	"pulse/internal/transport"
)

const (
	testSize       = 1024
	testSampleRate = 16000.0
)

func TestMockTransport(t *testing.T) {
	mt := &MockTransport{}

	frames := []transport.Frame{
		{LockState: "unlocked"},
		{LockState: "verified", Hops: 42},
	}
	for i := range frames {
		if err := mt.Send(&frames[i]); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	if len(mt.Frames) != 2 {
		t.Fatalf("stored %d frames, want 2", len(mt.Frames))
	}
	if mt.Frames[1].Hops != 42 {
		t.Errorf("frame not copied: Hops = %d, want 42", mt.Frames[1].Hops)
	}

	if err := mt.Close(); err != nil {
		t.Fatal(err)
	}
	if !mt.Closed {
		t.Error("Close() did not mark the transport closed")
	}
}

func TestGenerateSineWave(t *testing.T) {
	wave := GenerateSineWave(testSize, testSampleRate, 440)
	if len(wave) != testSize {
		t.Fatalf("length = %d, want %d", len(wave), testSize)
	}
	if wave[0] != 0 {
		t.Errorf("sine must start at zero, got %d", wave[0])
	}

	var peak int32
	for _, s := range wave {
		if s > peak {
			peak = s
		}
	}
	if float64(peak) < 0.8*math.MaxInt32 {
		t.Errorf("peak = %d, want near full scale", peak)
	}
}

func TestGenerateClickTrack(t *testing.T) {
	const bpm = 120.0
	wave := GenerateClickTrack(bpm, 2, testSampleRate)
	if len(wave) != int(2*testSampleRate) {
		t.Fatalf("length = %d, want %d", len(wave), int(2*testSampleRate))
	}

	// Energy at each beat start, silence midway between beats.
	beatSamples := int(60 / bpm * testSampleRate)
	for beat := 0; beat < 4; beat++ {
		start := beat * beatSamples
		var clickPeak int32
		for _, s := range wave[start : start+100] {
			if s > clickPeak {
				clickPeak = s
			}
		}
		if clickPeak == 0 {
			t.Errorf("beat %d: no click energy at sample %d", beat, start)
		}

		mid := start + beatSamples/2
		if wave[mid] != 0 {
			t.Errorf("beat %d: signal %d between clicks, want silence", beat, wave[mid])
		}
	}
}

func TestFindPeakBin(t *testing.T) {
	mags := make([]float64, testSize)
	for i := range mags {
		mags[i] = math.Exp(-0.01 * math.Pow(float64(i-testSize/4), 2))
	}

	tests := []struct {
		name     string
		start    int
		end      int
		wantPeak int
	}{
		{"Full Range", 0, testSize - 1, testSize / 4},
		{"Clamped Bounds", -10, testSize + 10, testSize / 4},
		{"Window Excluding Peak", testSize / 2, testSize - 1, testSize / 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FindPeakBin(mags, tt.start, tt.end); got != tt.wantPeak {
				t.Errorf("FindPeakBin() = %d, want %d", got, tt.wantPeak)
			}
		})
	}

	if got := FindPeakBin(nil, 0, 10); got != 0 {
		t.Errorf("FindPeakBin(nil) = %d, want 0", got)
	}
}
