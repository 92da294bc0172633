package audio

import (
	"fmt"
	"time"
)

const (
	defaultSegmenterSampleRate = 16000
	defaultBufferDuration      = 2 * time.Second
	defaultTailDuration        = 500 * time.Millisecond
	defaultSilenceThreshold    = 500.0
)

// FlushDecision is the result of pushing a chunk into a [Segmenter].
type FlushDecision int

const (
	// Accumulate means the chunk was buffered and no utterance is ready yet.
	Accumulate FlushDecision = iota

	// Flush means the buffer reached its threshold and an utterance was cut.
	Flush
)

// String returns "accumulate" or "flush".
func (d FlushDecision) String() string {
	switch d {
	case Accumulate:
		return "accumulate"
	case Flush:
		return "flush"
	default:
		return fmt.Sprintf("FlushDecision(%d)", int(d))
	}
}

// SegmenterConfig configures a [Segmenter]. Zero values select the defaults.
type SegmenterConfig struct {
	// SampleRate of the incoming PCM in Hz. Defaults to 16000.
	SampleRate int

	// BufferDuration is the buffered length that triggers a flush.
	// Defaults to 2s.
	BufferDuration time.Duration

	// TailDuration is the trailing audio kept after each flush as acoustic
	// context for the next utterance. Defaults to 500ms. A negative value
	// disables tail retention.
	TailDuration time.Duration

	// SilenceThreshold is the RMS level below which a chunk counts as silence.
	// Only consulted when MaxSilence > 0. Defaults to 500.
	SilenceThreshold float64

	// MaxSilence, when positive, flushes early once this much trailing
	// silence follows speech. Zero disables silence flushing so that only
	// BufferDuration cuts utterances.
	MaxSilence time.Duration
}

// Segmenter accumulates one session's PCM samples and decides when enough
// signal has arrived to treat it as an utterance.
//
// A Segmenter is not safe for concurrent use. Each session owns exactly one
// and feeds it from a single goroutine.
type Segmenter struct {
	cfg SegmenterConfig

	// Precomputed thresholds in samples.
	flushAt     int
	tailLen     int
	maxSilentAt int

	buf       []int16
	hadSpeech bool
	silent    int
}

// NewSegmenter returns an empty Segmenter.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSegmenterSampleRate
	}
	if cfg.BufferDuration <= 0 {
		cfg.BufferDuration = defaultBufferDuration
	}
	if cfg.TailDuration == 0 {
		cfg.TailDuration = defaultTailDuration
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = defaultSilenceThreshold
	}

	// count/rate >= duration  <=>  count >= ceil(duration*rate)
	num := int64(cfg.BufferDuration) * int64(cfg.SampleRate)
	flushAt := int((num + int64(time.Second) - 1) / int64(time.Second))
	if flushAt < 1 {
		flushAt = 1
	}

	return &Segmenter{
		cfg:         cfg,
		flushAt:     flushAt,
		tailLen:     SamplesFor(cfg.TailDuration, cfg.SampleRate),
		maxSilentAt: SamplesFor(cfg.MaxSilence, cfg.SampleRate),
		buf:         make([]int16, 0, flushAt),
	}
}

// Config returns the effective configuration after defaults were applied.
func (s *Segmenter) Config() SegmenterConfig { return s.cfg }

// Push appends a chunk of little-endian int16 PCM and reports whether the
// buffer has reached the flush threshold. On [Flush] the returned slice holds
// every buffered sample (the utterance) and the buffer is reset to its tail.
//
// A chunk with an odd byte count is rejected with [ErrOddChunk] and leaves the
// buffer untouched. An empty chunk is accepted and never flushes on its own.
func (s *Segmenter) Push(chunk []byte) (FlushDecision, []int16, error) {
	samples, err := BytesToSamples(chunk)
	if err != nil {
		return Accumulate, nil, err
	}
	if len(samples) == 0 {
		return Accumulate, nil, nil
	}

	s.buf = append(s.buf, samples...)

	if len(s.buf) >= s.flushAt {
		return Flush, s.cut(), nil
	}

	if s.maxSilentAt > 0 {
		if RMS(samples) >= s.cfg.SilenceThreshold {
			s.hadSpeech = true
			s.silent = 0
		} else if s.hadSpeech {
			s.silent += len(samples)
			if s.silent >= s.maxSilentAt {
				return Flush, s.cut(), nil
			}
		}
	}

	return Accumulate, nil, nil
}

// FlushNow forces a flush regardless of buffered duration, as when the peer
// signals the end of speech. It returns false and leaves the buffer unchanged
// when nothing is buffered.
func (s *Segmenter) FlushNow() ([]int16, bool) {
	if len(s.buf) == 0 {
		return nil, false
	}
	return s.cut(), true
}

// Len returns the number of buffered samples.
func (s *Segmenter) Len() int { return len(s.buf) }

// Duration returns the buffered audio length.
func (s *Segmenter) Duration() time.Duration { return Duration(len(s.buf), s.cfg.SampleRate) }

// Reset discards every buffered sample.
func (s *Segmenter) Reset() {
	s.buf = s.buf[:0]
	s.hadSpeech = false
	s.silent = 0
}

// cut returns a copy of the whole buffer and retains only the trailing
// tailLen samples, or the whole buffer if it is shorter than that.
func (s *Segmenter) cut() []int16 {
	utterance := make([]int16, len(s.buf))
	copy(utterance, s.buf)

	keep := min(s.tailLen, len(s.buf))
	if keep < 0 {
		keep = 0
	}
	// Copy into a fresh backing array so the utterance and the tail never alias.
	tail := make([]int16, keep, max(s.flushAt, keep))
	copy(tail, s.buf[len(s.buf)-keep:])
	s.buf = tail
	s.hadSpeech = false
	s.silent = 0

	return utterance
}
