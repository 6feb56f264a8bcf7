package utils

import (
	"math"

	"pulse/internal/transport"
)

// MockTransport implements the Transport interface for testing.
type MockTransport struct {
	Frames []transport.Frame
	Closed bool
}

// Send stores the frame for later inspection instead of transmitting.
func (m *MockTransport) Send(frame *transport.Frame) error {
	m.Frames = append(m.Frames, *frame)
	return nil
}

func (m *MockTransport) Close() error {
	m.Closed = true
	return nil
}

// GenerateSineWave returns a full-scale sine tone.
func GenerateSineWave(size int, sampleRate, frequency float64) []int32 {
	buffer := make([]int32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = int32(math.Sin(2*math.Pi*frequency*t) * math.MaxInt32 * 0.9)
	}
	return buffer
}

// GenerateComplexWave returns a 440 Hz fundamental plus harmonics.
func GenerateComplexWave(size int, sampleRate float64) []int32 {
	buffer := make([]int32, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = int32(signal * math.MaxInt32 * 0.9)
	}
	return buffer
}

// GenerateClickTrack returns seconds of audio with a short decaying
// burst on every beat of the given tempo and silence in between. The
// burst is a 1 kHz tone under a fast exponential envelope, which gives
// tempo trackers a strong onset without sustained energy.
func GenerateClickTrack(bpm, seconds, sampleRate float64) []int32 {
	size := int(seconds * sampleRate)
	buffer := make([]int32, size)
	beatPeriod := 60 / bpm
	clickLen := int(0.02 * sampleRate)

	for i := range buffer {
		t := float64(i) / sampleRate
		beatPos := math.Mod(t, beatPeriod)
		sampleInClick := int(beatPos * sampleRate)
		if sampleInClick < clickLen {
			env := math.Exp(-float64(sampleInClick) / (0.004 * sampleRate))
			signal := math.Sin(2*math.Pi*1000*t) * env
			buffer[i] = int32(signal * math.MaxInt32 * 0.8)
		}
	}
	return buffer
}

// FindPeakBin returns the index of the largest magnitude in
// [startBin, endBin], clamped to the slice bounds.
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}
	if startBin < 0 {
		startBin = 0
	}
	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]
	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}
	return peakBin
}
