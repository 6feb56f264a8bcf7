// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/window"

	"pulse/pkg/bitint"
)

// maxBlockSize caps the trailing window a single detector may inspect.
// The lowest semitone bin wants far more history than this at 16 kHz;
// capping trades low-frequency resolution for bounded memory and CPU.
const maxBlockSize = 2048

// minBlockSize keeps high-frequency detectors from degenerating into
// windows too short to resonate.
const minBlockSize = 64

// hannCoherentGain compensates magnitude for the Hann window.
const hannCoherentGain = 0.5

// SemitoneFreqs returns n semitone-spaced frequencies starting at A1
// (55 Hz): freq = 55 * 2^(i/12). With n=64 the range is A1..C7, which
// covers melodic and harmonic content for chroma folding.
func SemitoneFreqs(n int) []float64 {
	freqs := make([]float64, n)
	for i := range freqs {
		freqs[i] = 55.0 * math.Pow(2, float64(i)/12.0)
	}
	return freqs
}

// BandFreqs returns the 8 logarithmically spaced band centers used for
// the coarse band energy outputs, roughly 60 Hz to 8 kHz.
func BandFreqs() []float64 {
	return []float64{63, 125, 250, 500, 1000, 2000, 4000, 7800}
}

type goertzelBin struct {
	freq  float64
	coeff float64 // 2*cos(2*pi*freq/sampleRate)
	block int
	norm  float64 // Converts raw Goertzel output to sine amplitude
}

// BinBank is a bank of single-frequency resonance detectors sharing one
// ring of recent samples. Each detector runs a Goertzel filter over its
// own trailing window, sized from the distance to its nearest neighbor:
// closely spaced bins get longer windows (better resolution), widely
// spaced bins get short, cheap ones.
//
// This gives targeted frequency resolution without a full spectral
// transform. Owned exclusively by the analysis loop.
type BinBank struct {
	sampleRate float64
	bins       []goertzelBin
	ring       []float64
	mask       int
	write      int
	filled     int
	scratch    []float64
}

// NewBinBank creates a bank for the given center frequencies. Every
// frequency must be positive and below Nyquist.
func NewBinBank(sampleRate float64, freqs []float64) (*BinBank, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %g", sampleRate)
	}
	if len(freqs) == 0 {
		return nil, fmt.Errorf("bin bank needs at least one frequency")
	}

	bins := make([]goertzelBin, len(freqs))
	for i, f := range freqs {
		if f <= 0 || f >= sampleRate/2 {
			return nil, fmt.Errorf("frequency %g Hz outside (0, %g)", f, sampleRate/2)
		}
		block := blockSizeFor(sampleRate, freqs, i)
		w := 2 * math.Pi * f / sampleRate
		bins[i] = goertzelBin{
			freq:  f,
			coeff: 2 * math.Cos(w),
			block: block,
			norm:  2.0 / (float64(block) * hannCoherentGain),
		}
	}

	ringLen := bitint.NextPowerOfTwo(maxBlockSize)
	return &BinBank{
		sampleRate: sampleRate,
		bins:       bins,
		ring:       make([]float64, ringLen),
		mask:       ringLen - 1,
		scratch:    make([]float64, maxBlockSize),
	}, nil
}

// blockSizeFor sizes a detector's window from the gap to its nearest
// neighbor: block = 2 * sampleRate / gapHz, clamped. Isolated bins
// fall back to eight cycles of the target frequency.
func blockSizeFor(sampleRate float64, freqs []float64, i int) int {
	gap := math.Inf(1)
	for j, f := range freqs {
		if j == i {
			continue
		}
		if d := math.Abs(f - freqs[i]); d < gap {
			gap = d
		}
	}

	var block float64
	if math.IsInf(gap, 1) {
		block = 8 * sampleRate / freqs[i]
	} else {
		block = 2 * sampleRate / gap
	}
	if block > maxBlockSize {
		block = maxBlockSize
	}
	if block < minBlockSize {
		block = minBlockSize
	}
	return int(block)
}

// Push appends centered samples to the shared ring.
func (b *BinBank) Push(samples []float64) {
	for _, s := range samples {
		b.ring[b.write] = s
		b.write = (b.write + 1) & b.mask
	}
	b.filled += len(samples)
	if b.filled > len(b.ring) {
		b.filled = len(b.ring)
	}
}

// NumBins returns the number of detectors in the bank.
func (b *BinBank) NumBins() int {
	return len(b.bins)
}

// Freq returns the center frequency of bin i.
func (b *BinBank) Freq(i int) float64 {
	return b.bins[i].freq
}

// Magnitudes computes the amplitude of every detector over its trailing
// window and writes the results into dst, which must have NumBins
// entries. A Hann window is applied to each block before the filter to
// suppress spectral leakage from neighboring content.
func (b *BinBank) Magnitudes(dst []float64) {
	for i := range b.bins {
		dst[i] = b.magnitude(i)
	}
}

func (b *BinBank) magnitude(i int) float64 {
	bin := &b.bins[i]
	block := bin.block
	if block > b.filled {
		block = b.filled
	}
	if block < 2 {
		return 0
	}

	// Copy the trailing block out of the ring, oldest first.
	start := (b.write - block) & b.mask
	buf := b.scratch[:block]
	for j := 0; j < block; j++ {
		buf[j] = b.ring[(start+j)&b.mask]
	}
	window.Hann(buf)

	var q1, q2 float64
	for _, s := range buf {
		q0 := bin.coeff*q1 - q2 + s
		q2 = q1
		q1 = q0
	}

	magSq := q1*q1 + q2*q2 - q1*q2*bin.coeff
	if magSq < 0 {
		magSq = 0
	}
	// Short warm-up blocks use the nominal norm; slightly low readings
	// during the first window are harmless.
	return math.Sqrt(magSq) * bin.norm
}

// FoldChroma folds semitone-spaced magnitudes into 12 pitch classes.
// Bin 0 is A1; dst is indexed with the usual C=0 convention.
func FoldChroma(semitones []float64, dst *[NumChroma]float64) {
	for i := range dst {
		dst[i] = 0
	}
	for i, m := range semitones {
		dst[(9+i)%NumChroma] += m
	}
}
