package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/parla/pkg/provider/stt"
	"github.com/MrWong99/parla/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// newMockServer creates a test server that answers POST /inference with
// responseText and records the multipart fields of the last request.
func newMockServer(t *testing.T, responseText string, calls *atomic.Int32, fields map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if fields != nil {
			for k, v := range r.MultipartForm.Value {
				fields[k] = v[0]
			}
			f, _, err := r.FormFile("file")
			if err == nil {
				head := make([]byte, 4)
				_, _ = io.ReadFull(f, head)
				fields["file_magic"] = string(head)
				f.Close()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// makeSpeechPCM generates a 440 Hz sine wave whose RMS is far above the
// silence threshold.
func makeSpeechPCM(samples int) []byte {
	const amplitude = 10_000.0
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

// ---- Transcribe -------------------------------------------------------------

func TestTranscribe_ReturnsServerText(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fields := map[string]string{}
	srv := newMockServer(t, "  今天天气怎么样 ", &calls, fields)

	p, err := whisper.New(srv.URL+"/", whisper.WithLanguage("zh"), whisper.WithModel("base"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text, err := p.Transcribe(context.Background(), stt.Request{PCM: makeSpeechPCM(16000), SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "今天天气怎么样" {
		t.Errorf("text = %q, want %q", text, "今天天气怎么样")
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
	if fields["language"] != "zh" {
		t.Errorf("language field = %q, want zh", fields["language"])
	}
	if fields["model"] != "base" {
		t.Errorf("model field = %q, want base", fields["model"])
	}
	if fields["file_magic"] != "RIFF" {
		t.Errorf("uploaded file does not start with RIFF: %q", fields["file_magic"])
	}
}

func TestTranscribe_RequestLanguageOverridesDefault(t *testing.T) {
	t.Parallel()

	fields := map[string]string{}
	srv := newMockServer(t, "hello", nil, fields)
	p, _ := whisper.New(srv.URL, whisper.WithLanguage("zh"))

	if _, err := p.Transcribe(context.Background(), stt.Request{PCM: makeSpeechPCM(1600), Language: "en"}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if fields["language"] != "en" {
		t.Errorf("language field = %q, want en", fields["language"])
	}
}

func TestTranscribe_SilenceSkipsServer(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newMockServer(t, "should not be returned", &calls, nil)
	p, _ := whisper.New(srv.URL)

	text, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 32000)})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty for silence", text)
	}
	if calls.Load() != 0 {
		t.Errorf("server called %d times for silence", calls.Load())
	}
}

func TestTranscribe_OddPCM_ReturnsError(t *testing.T) {
	t.Parallel()
	p, _ := whisper.New("http://127.0.0.1:1")
	if _, err := p.Transcribe(context.Background(), stt.Request{PCM: []byte{1, 2, 3}}); err == nil {
		t.Fatal("expected error for odd-length PCM")
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), stt.Request{PCM: makeSpeechPCM(1600)}); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}
