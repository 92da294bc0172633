package audio_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/parla/pkg/audio"
)

// ramp returns n samples with increasing values starting at start.
func ramp(start, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16((start + i) % 30000)
	}
	return out
}

func TestSegmenter_FlushOnSecondChunk(t *testing.T) {
	t.Parallel()

	seg := audio.NewSegmenter(audio.SegmenterConfig{SampleRate: 16000})

	first := ramp(0, 16000)     // 1.0s
	second := ramp(16000, 19200) // 1.2s

	dec, utt, err := seg.Push(audio.SamplesToBytes(first))
	if err != nil {
		t.Fatalf("Push first: %v", err)
	}
	if dec != audio.Accumulate || utt != nil {
		t.Fatalf("first chunk: got %v with %d samples, want accumulate", dec, len(utt))
	}

	dec, utt, err = seg.Push(audio.SamplesToBytes(second))
	if err != nil {
		t.Fatalf("Push second: %v", err)
	}
	if dec != audio.Flush {
		t.Fatalf("second chunk: got %v, want flush", dec)
	}
	if len(utt) != 35200 {
		t.Errorf("utterance length = %d, want 35200", len(utt))
	}
	if seg.Len() != 8000 {
		t.Fatalf("retained tail = %d samples, want 8000", seg.Len())
	}

	// The tail must be exactly the most recent 8000 samples.
	all := append(append([]int16{}, first...), second...)
	tail, ok := seg.FlushNow()
	if !ok {
		t.Fatal("FlushNow on non-empty buffer returned false")
	}
	for i := range tail {
		if tail[i] != all[len(all)-8000+i] {
			t.Fatalf("tail[%d] = %d, want %d", i, tail[i], all[len(all)-8000+i])
		}
	}
}

func TestSegmenter_FlushExactlyAtThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		chunks []int // sample counts
		flushK int   // index of the chunk that must flush
	}{
		{name: "single exact chunk", chunks: []int{32000}, flushK: 0},
		{name: "many small chunks", chunks: []int{1024, 1024, 1024, 28928, 1}, flushK: 3},
		{name: "overshoot", chunks: []int{31999, 2}, flushK: 1},
		{name: "empty chunks ignored", chunks: []int{0, 16000, 0, 15999, 1}, flushK: 4},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			seg := audio.NewSegmenter(audio.SegmenterConfig{SampleRate: 16000, BufferDuration: 2 * time.Second})
			for i, n := range tc.chunks {
				dec, _, err := seg.Push(audio.SamplesToBytes(ramp(0, n)))
				if err != nil {
					t.Fatalf("chunk %d: %v", i, err)
				}
				want := audio.Accumulate
				if i == tc.flushK {
					want = audio.Flush
				}
				if dec != want {
					t.Fatalf("chunk %d: got %v, want %v", i, dec, want)
				}
				if i == tc.flushK {
					return
				}
			}
		})
	}
}

func TestSegmenter_TailShorterThanHalfSecond(t *testing.T) {
	t.Parallel()

	// With a 0.25s buffer the whole buffer is shorter than the 0.5s tail.
	seg := audio.NewSegmenter(audio.SegmenterConfig{SampleRate: 16000, BufferDuration: 250 * time.Millisecond})
	dec, utt, err := seg.Push(audio.SamplesToBytes(ramp(0, 4000)))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if dec != audio.Flush {
		t.Fatalf("got %v, want flush", dec)
	}
	if len(utt) != 4000 || seg.Len() != 4000 {
		t.Errorf("utterance=%d retained=%d, want 4000/4000", len(utt), seg.Len())
	}
}

func TestSegmenter_OddChunkRejected(t *testing.T) {
	t.Parallel()

	seg := audio.NewSegmenter(audio.SegmenterConfig{})
	if _, _, err := seg.Push(audio.SamplesToBytes(ramp(0, 100))); err != nil {
		t.Fatalf("Push: %v", err)
	}

	dec, utt, err := seg.Push([]byte{1, 2, 3})
	if !errors.Is(err, audio.ErrOddChunk) {
		t.Fatalf("err = %v, want ErrOddChunk", err)
	}
	if dec != audio.Accumulate || utt != nil {
		t.Errorf("odd chunk returned %v with %d samples", dec, len(utt))
	}
	if seg.Len() != 100 {
		t.Errorf("buffer length = %d after rejected chunk, want 100", seg.Len())
	}
}

func TestSegmenter_FlushNowEmptyIsNoop(t *testing.T) {
	t.Parallel()

	seg := audio.NewSegmenter(audio.SegmenterConfig{})
	if utt, ok := seg.FlushNow(); ok || utt != nil {
		t.Fatalf("FlushNow on empty buffer = (%v, %v), want (nil, false)", utt, ok)
	}
	if seg.Len() != 0 {
		t.Errorf("Len = %d, want 0", seg.Len())
	}
}

func TestSegmenter_FlushNowRetainsTail(t *testing.T) {
	t.Parallel()

	seg := audio.NewSegmenter(audio.SegmenterConfig{SampleRate: 16000})
	_, _, _ = seg.Push(audio.SamplesToBytes(ramp(0, 12000)))

	utt, ok := seg.FlushNow()
	if !ok {
		t.Fatal("FlushNow returned false")
	}
	if len(utt) != 12000 {
		t.Errorf("utterance = %d samples, want 12000", len(utt))
	}
	if seg.Len() != 8000 {
		t.Errorf("retained = %d, want 8000", seg.Len())
	}
	if got := seg.Duration(); got != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", got)
	}
}

func TestSegmenter_UtteranceDoesNotAliasBuffer(t *testing.T) {
	t.Parallel()

	seg := audio.NewSegmenter(audio.SegmenterConfig{SampleRate: 1000, BufferDuration: time.Second})
	_, utt, _ := seg.Push(audio.SamplesToBytes(ramp(0, 1000)))
	if utt == nil {
		t.Fatal("expected flush")
	}
	before := utt[999]
	_, _, _ = seg.Push(audio.SamplesToBytes([]int16{-1, -1, -1}))
	if utt[999] != before {
		t.Error("pushing after a flush modified the returned utterance")
	}
}

func TestSegmenter_SilenceFlush(t *testing.T) {
	t.Parallel()

	seg := audio.NewSegmenter(audio.SegmenterConfig{
		SampleRate:       16000,
		BufferDuration:   10 * time.Second,
		SilenceThreshold: 500,
		MaxSilence:       300 * time.Millisecond,
	})

	loud := make([]int16, 1600)
	for i := range loud {
		loud[i] = 5000
	}
	quiet := make([]int16, 1600) // 100ms of zeros

	// Silence before any speech never flushes.
	for range 5 {
		if dec, _, _ := seg.Push(audio.SamplesToBytes(quiet)); dec != audio.Accumulate {
			t.Fatal("leading silence flushed")
		}
	}
	if dec, _, _ := seg.Push(audio.SamplesToBytes(loud)); dec != audio.Accumulate {
		t.Fatal("speech chunk flushed")
	}
	for i := range 2 {
		if dec, _, _ := seg.Push(audio.SamplesToBytes(quiet)); dec != audio.Accumulate {
			t.Fatalf("silence chunk %d flushed early", i)
		}
	}
	dec, utt, _ := seg.Push(audio.SamplesToBytes(quiet))
	if dec != audio.Flush {
		t.Fatalf("got %v after 300ms silence, want flush", dec)
	}
	if len(utt) != 9*1600 {
		t.Errorf("utterance = %d samples, want %d", len(utt), 9*1600)
	}
}

func TestFlushDecision_String(t *testing.T) {
	t.Parallel()
	if got := audio.Flush.String(); got != "flush" {
		t.Errorf("Flush.String() = %q", got)
	}
	if got := audio.Accumulate.String(); got != "accumulate" {
		t.Errorf("Accumulate.String() = %q", got)
	}
}
