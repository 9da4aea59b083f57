// Package audio defines the PCM frame type flowing through the exo pipeline
// and the capture Source abstraction that produces frames.
//
// All audio inside the pipeline is 16-bit signed little-endian PCM. The
// canonical pipeline format is 16 kHz mono; sources delivering other formats
// are converted at the edge (see [StereoToMono] and [Resample]).
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// DefaultSampleRate is the canonical pipeline sample rate in Hz.
	DefaultSampleRate = 16000

	// DefaultChannels is the canonical channel count. The pipeline is mono
	// end to end.
	DefaultChannels = 1

	// DefaultChunkSamples is the number of samples per capture chunk
	// (64 ms at 16 kHz).
	DefaultChunkSamples = 1024

	// bytesPerSample is fixed at 2 for 16-bit PCM.
	bytesPerSample = 2
)

// Frame is a single chunk of PCM16 audio flowing through the pipeline.
// Frames are the atomic unit of transport: captured from a [Source], scored
// by the endpointer, and accumulated into utterances.
type Frame struct {
	// Data is raw 16-bit signed little-endian PCM.
	Data []byte

	// SampleRate in Hz (16000 for the canonical pipeline format).
	SampleRate int

	// Channels is the number of interleaved channels (1 for the pipeline).
	Channels int

	// Room names the room this frame was captured in.
	Room string

	// Timestamp marks when the frame was captured.
	Timestamp time.Time
}

// Samples decodes the frame's PCM data into int16 samples.
func (f Frame) Samples() []int16 {
	return BytesToSamples(f.Data)
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	return PCMDuration(len(f.Data), f.SampleRate, f.Channels)
}

// RMSEnergy returns the root-mean-square energy of the frame in PCM sample
// units (0 to 32767). An empty or sub-sample frame has energy 0.
func (f Frame) RMSEnergy() float64 {
	n := len(f.Data) / bytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(f.Data[i*2 : i*2+2])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// PCMDuration returns the playback duration of byteLen bytes of PCM16 audio.
// Returns 0 for non-positive rates or channel counts.
func PCMDuration(byteLen, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := byteLen / (bytesPerSample * channels)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// BytesToSamples decodes little-endian PCM16 bytes into int16 samples.
// A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	out := make([]int16, len(data)/bytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}
	return out
}

// SamplesToBytes encodes int16 samples as little-endian PCM16 bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(s))
	}
	return out
}
