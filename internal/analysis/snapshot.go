// SPDX-License-Identifier: MIT
package analysis

// NumBands is the number of logarithmically spaced frequency bands.
const NumBands = 8

// NumChroma is the number of pitch classes (one per semitone mod octave).
const NumChroma = 12

// Snapshot is the musical state produced once per hop. It is a plain
// value: fixed-size arrays, no pointers, so a struct copy is a complete,
// self-contained frame. The render side only ever sees whole copies.
//
// Every field pair (X, FastX / X, HeavyX) is the same signal smoothed at
// two rates: the fast path reacts within tens of milliseconds for
// beat-synchronous visuals, the slow path drifts over hundreds of
// milliseconds for color and mood.
type Snapshot struct {
	Sequence        uint64 // Monotonic per-hop counter
	TimestampMicros uint64

	RMS      float64 // Perceptually mapped loudness, slow path
	FastRMS  float64 // Loudness, fast path
	Flux     float64 // UI-facing spectral flux, slow path
	FastFlux float64 // Spectral flux, fast path

	Bands      [NumBands]float64 // Lightly smoothed band magnitudes, 0..1
	HeavyBands [NumBands]float64 // Heavily smoothed band magnitudes, 0..1

	Chroma      [NumChroma]float64 // Pitch-class energy, lightly smoothed, C=0
	HeavyChroma [NumChroma]float64 // Pitch-class energy, heavily smoothed

	BPM          float64
	Confidence01 float64
	BeatTick     bool
	DownbeatTick bool
	PhaseAtHop01 float64 // Resonator phase estimate at hop granularity

	IsSilent      bool
	SilentScale01 float64 // 1 = active, decays toward 0 during silence
}
