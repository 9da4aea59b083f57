package audio

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
)

// Normalizer converts incoming frames to the canonical pipeline format
// (16 kHz mono). It logs a warning on the first format mismatch and drops
// frames with misaligned PCM data. Create one per stream; not designed for
// shared use across goroutines.
type Normalizer struct {
	SampleRate int
	Channels   int

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Normalize converts a frame to the target format. If the source format
// already matches, the frame is returned unchanged. Conversion order:
// downmix first, then resample, so stereo input is never resampled twice.
func (n *Normalizer) Normalize(frame Frame) Frame {
	if len(frame.Data)%bytesPerSample != 0 {
		n.warnedCorrupt.Do(func() {
			slog.Warn("audio normalizer: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sample_rate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		frame.Data = nil
		frame.SampleRate = n.SampleRate
		frame.Channels = n.Channels
		return frame
	}

	if frame.SampleRate == n.SampleRate && frame.Channels == n.Channels {
		return frame
	}

	n.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from_rate", frame.SampleRate, "from_channels", frame.Channels,
			"to_rate", n.SampleRate, "to_channels", n.Channels,
		)
	})

	pcm := frame.Data
	if frame.Channels == 2 && n.Channels == 1 {
		pcm = StereoToMono(pcm)
	}
	if frame.SampleRate != n.SampleRate {
		pcm = Resample(pcm, frame.SampleRate, n.SampleRate)
	}

	frame.Data = pcm
	frame.SampleRate = n.SampleRate
	frame.Channels = n.Channels
	return frame
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono
// output. Uses int32 arithmetic to prevent overflow and clamps to the int16
// range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4 : i*4+2])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2 : i*4+4])))
		avg := (l + r) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(int16(avg)))
	}
	return out
}

// Resample converts 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate the input is returned unchanged.
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < bytesPerSample {
		return pcm
	}
	srcSamples := len(pcm) / bytesPerSample
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*bytesPerSample)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(binary.LittleEndian.Uint16(pcm[srcIdx*2 : srcIdx*2+2]))
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(binary.LittleEndian.Uint16(pcm[(srcIdx+1)*2 : (srcIdx+1)*2+2]))
		}

		interp := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(interp))
	}
	return out
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container, suitable for upload to HTTP inference servers.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bps = 16
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// WAVInfo holds the format metadata extracted from a RIFF/WAVE header.
type WAVInfo struct {
	SampleRate int
	Channels   int
}

// DecodeWAV extracts the raw PCM payload and format from a RIFF/WAVE
// container. It walks the sub-chunks rather than assuming a 44-byte header
// because the fmt chunk size varies between encoders.
func DecodeWAV(wav []byte) ([]byte, WAVInfo, error) {
	if len(wav) < 12 {
		return nil, WAVInfo{}, errors.New("audio: WAV data too short for a RIFF header")
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, WAVInfo{}, errors.New("audio: not a RIFF/WAVE container")
	}

	var info WAVInfo
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			}
		case "data":
			start := offset + 8
			end := start + chunkSize
			if end > len(wav) {
				end = len(wav)
			}
			return wav[start:end], info, nil
		}

		// Chunks are word-aligned.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return nil, WAVInfo{}, errors.New("audio: WAV data chunk not found")
}
