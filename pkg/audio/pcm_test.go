package audio_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/parla/pkg/audio"
)

func TestBytesToSamples(t *testing.T) {
	t.Parallel()

	got, err := audio.BytesToSamples([]byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80})
	if err != nil {
		t.Fatalf("BytesToSamples: %v", err)
	}
	want := []int16{1, -1, -32768}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}

	if _, err := audio.BytesToSamples([]byte{1}); !errors.Is(err, audio.ErrOddChunk) {
		t.Errorf("odd input: err = %v, want ErrOddChunk", err)
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.RMS([]int16{300, -300, 300, -300}); got != 300 {
		t.Errorf("RMS = %v, want 300", got)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	t.Parallel()

	pcm := audio.SamplesToBytes([]int16{10, 20, 30, 40})
	wav := audio.EncodeWAV(pcm, 22050, 1)

	got, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 22050 {
		t.Errorf("rate = %d, want 22050", rate)
	}
	if string(got) != string(pcm) {
		t.Errorf("payload mismatch: got %v, want %v", got, pcm)
	}
}

func TestDecodeWAV_Stereo(t *testing.T) {
	t.Parallel()

	pcm := audio.SamplesToBytes([]int16{100, 200, -100, -200})
	got, _, err := audio.DecodeWAV(audio.EncodeWAV(pcm, 16000, 2))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	samples, _ := audio.BytesToSamples(got)
	if len(samples) != 2 || samples[0] != 150 || samples[1] != -150 {
		t.Errorf("down-mix = %v, want [150 -150]", samples)
	}
}

func TestParseWAV_Invalid(t *testing.T) {
	t.Parallel()

	for _, in := range [][]byte{nil, []byte("RIFF0000WAVX"), []byte("NOPE0000WAVE")} {
		if _, err := audio.ParseWAV(in); err == nil {
			t.Errorf("ParseWAV(%q) succeeded, want error", in)
		}
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	pcm := audio.SamplesToBytes(make([]int16, 2205))
	out := audio.ResampleMono16(pcm, 22050, 16000)
	if len(out) != 1600*2 {
		t.Errorf("resampled length = %d bytes, want %d", len(out), 1600*2)
	}
	if same := audio.ResampleMono16(pcm, 16000, 16000); len(same) != len(pcm) {
		t.Error("same-rate resample changed length")
	}
}
