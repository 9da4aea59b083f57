package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/exovoice/exo/pkg/audio"
)

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	stereo := audio.SamplesToBytes([]int16{100, 200, -100, 100, 32767, 32767})
	mono := audio.BytesToSamples(audio.StereoToMono(stereo))

	want := []int16{150, 0, 32767}
	if len(mono) != len(want) {
		t.Fatalf("mono length = %d, want %d", len(mono), len(want))
	}
	for i := range want {
		if mono[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, mono[i], want[i])
		}
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	t.Run("same rate unchanged", func(t *testing.T) {
		t.Parallel()
		pcm := audio.SamplesToBytes([]int16{1, 2, 3, 4})
		got := audio.Resample(pcm, 16000, 16000)
		if &got[0] != &pcm[0] {
			t.Fatal("expected input returned unchanged")
		}
	})

	t.Run("downsample halves length", func(t *testing.T) {
		t.Parallel()
		pcm := audio.SamplesToBytes(make([]int16, 480))
		got := audio.Resample(pcm, 48000, 16000)
		if len(got) != 160*2 {
			t.Fatalf("resampled length = %d bytes, want %d", len(got), 160*2)
		}
	})

	t.Run("constant signal preserved", func(t *testing.T) {
		t.Parallel()
		in := make([]int16, 100)
		for i := range in {
			in[i] = 1000
		}
		out := audio.BytesToSamples(audio.Resample(audio.SamplesToBytes(in), 8000, 16000))
		for i, s := range out {
			if s != 1000 {
				t.Fatalf("sample %d = %d, want 1000", i, s)
			}
		}
	})
}

func TestNormalizer(t *testing.T) {
	t.Parallel()

	n := &audio.Normalizer{SampleRate: 16000, Channels: 1}

	t.Run("matching frame untouched", func(t *testing.T) {
		in := audio.Frame{Data: make([]byte, 512), SampleRate: 16000, Channels: 1, Room: "kitchen"}
		out := n.Normalize(in)
		if out.Room != "kitchen" || len(out.Data) != 512 {
			t.Fatalf("frame modified: %+v", out)
		}
	})

	t.Run("stereo 48k converted", func(t *testing.T) {
		in := audio.Frame{Data: make([]byte, 48000/1000*4*20), SampleRate: 48000, Channels: 2}
		out := n.Normalize(in)
		if out.SampleRate != 16000 || out.Channels != 1 {
			t.Fatalf("format = %d Hz %d ch, want 16000 Hz 1 ch", out.SampleRate, out.Channels)
		}
	})

	t.Run("odd byte count dropped", func(t *testing.T) {
		in := audio.Frame{Data: make([]byte, 101), SampleRate: 16000, Channels: 1}
		out := n.Normalize(in)
		if len(out.Data) != 0 {
			t.Fatalf("expected dropped data, got %d bytes", len(out.Data))
		}
	})
}

func TestEncodeWAV(t *testing.T) {
	t.Parallel()

	pcm := audio.SamplesToBytes(make([]int16, 160))
	wav := audio.EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE markers")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); int(size) != len(pcm) {
		t.Fatalf("data size = %d, want %d", size, len(pcm))
	}
}
