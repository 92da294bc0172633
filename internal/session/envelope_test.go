package session

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeInbound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    Inbound
		wantErr bool
	}{
		{"audio", `{"type":"audio","data":"AQACAA=="}`, Inbound{Type: KindAudio, PCM: []byte{1, 0, 2, 0}}, false},
		{"audio without data", `{"type":"audio"}`, Inbound{Type: KindAudio}, false},
		{"audio with empty data", `{"type":"audio","data":""}`, Inbound{Type: KindAudio}, false},
		{"stop", `{"type":"stop"}`, Inbound{Type: KindStop}, false},
		{"unknown kind passes through", `{"type":"ping"}`, Inbound{Type: "ping"}, false},
		{"bad base64", `{"type":"audio","data":"not-base64!!"}`, Inbound{}, true},
		{"not json", `audio`, Inbound{}, true},
		{"missing type", `{"data":"AA=="}`, Inbound{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeInbound([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("err = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeInbound: %v", err)
			}
			if got.Type != tt.want.Type || string(got.PCM) != string(tt.want.PCM) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestOutbound_MarshalJSON(t *testing.T) {
	t.Parallel()

	at := time.Unix(1700000000, 250_000_000)
	tests := []struct {
		name string
		msg  Outbound
		want string
	}{
		{"response", Response("北京今天晴", at), `{"type":"response","text":"北京今天晴","timestamp":1700000000.25}`},
		{"notification", Notification("系统维护"), `{"type":"notification","message":"系统维护"}`},
		{"speech", Speech([]byte{1, 0}, 16000), `{"type":"speech","data":"AQA=","sample_rate":16000}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := json.Marshal(Outbound{Type: "bogus"}); err == nil {
		t.Error("unknown outbound type: want error")
	}
}
