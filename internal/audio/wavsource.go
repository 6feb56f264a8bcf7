// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	applog "pulse/internal/log"
)

// wavChunkFrames is the read granularity for offline analysis. It is
// deliberately unrelated to the hop size so file analysis exercises
// the same reassembly path as irregular live capture buffers.
const wavChunkFrames = 1000

// WAVInfo reports the format of a WAV file without decoding it, so a
// pipeline can be configured to match before analysis starts.
func WAVInfo(path string) (sampleRate, channels, bitDepth int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return 0, 0, 0, fmt.Errorf("%s: not a valid WAV file", path)
	}
	return int(dec.SampleRate), int(dec.NumChans), int(dec.BitDepth), nil
}

// AnalyzeWAVFile decodes path and pushes its first channel through p
// as fast as it decodes. The pipeline must have been built with the
// file's sample rate (see WAVInfo). Returns the number of frames
// analyzed.
func AnalyzeWAVFile(p *Pipeline, path string) (frames uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("%s: not a valid WAV file", path)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		return 0, fmt.Errorf("%s: no channels", path)
	}

	// Shift decoded samples up to full 32-bit scale so the pipeline
	// sees the same dynamic range as live capture.
	shift := uint(32 - dec.BitDepth)

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: channels,
			SampleRate:  int(dec.SampleRate),
		},
		Data: make([]int, wavChunkFrames*channels),
	}
	mono := make([]int32, wavChunkFrames)

	for {
		n, err := dec.PCMBuffer(buf)
		if n == 0 {
			if err != nil && err != io.EOF {
				return frames, err
			}
			break
		}

		chunk := n / channels
		for i := 0; i < chunk; i++ {
			mono[i] = int32(buf.Data[i*channels]) << shift
		}
		p.Push(mono[:chunk])
		frames += uint64(chunk)

		if err == io.EOF {
			break
		}
	}

	applog.Debugf("wav: %s: %d frames analyzed", path, frames)
	return frames, nil
}
