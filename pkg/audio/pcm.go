// Package audio provides helpers for 16-bit signed little-endian mono PCM and
// the [Segmenter] that cuts a continuous capture stream into utterances.
//
// All PCM handled by this package is mono. Multi-channel audio produced by a
// TTS backend is down-mixed with [StereoToMono] before it enters the pipeline.
package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"time"
)

// BytesPerSample is the width of one 16-bit PCM sample.
const BytesPerSample = 2

// ErrOddChunk is returned when a PCM chunk does not contain a whole number of
// 16-bit samples.
var ErrOddChunk = errors.New("audio: chunk length is not a whole number of 16-bit samples")

// BytesToSamples decodes little-endian int16 PCM. It returns [ErrOddChunk] if
// len(pcm) is odd; an empty input yields an empty, non-nil slice.
func BytesToSamples(pcm []byte) ([]int16, error) {
	if len(pcm)%BytesPerSample != 0 {
		return nil, ErrOddChunk
	}
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out, nil
}

// SamplesToBytes encodes samples as little-endian int16 PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// RMS returns the root-mean-square energy of samples in PCM units (0–32767).
// Returns 0 for an empty slice.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Duration returns the playback duration of n mono samples at sampleRate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// SamplesFor returns the number of samples that make up d at sampleRate,
// rounding down.
func SamplesFor(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}

// ToFloat32 converts int16 samples to float32 in the range [-1, 1], the input
// format expected by whisper.cpp.
func ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}
