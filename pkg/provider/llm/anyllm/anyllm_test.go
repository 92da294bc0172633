package anyllm

import (
	"testing"

	"github.com/MrWong99/parla/pkg/provider/llm"
)

func TestConvertMessage_User(t *testing.T) {
	got := convertMessage(llm.Message{Role: llm.RoleUser, Content: "你好"})
	if got.Role != "user" {
		t.Errorf("role = %q, want user", got.Role)
	}
	if got.ContentString() != "你好" {
		t.Errorf("content = %q, want %q", got.ContentString(), "你好")
	}
}

func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "deepseek-r1:14b"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "be brief",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Temperature:  0.3,
		MaxTokens:    128,
	})
	if params.Model != "deepseek-r1:14b" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != "system" || params.Messages[0].ContentString() != "be brief" {
		t.Errorf("first message = %+v, want system prompt", params.Messages[0])
	}
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("temperature = %v, want 0.3", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 128 {
		t.Errorf("max tokens = %v, want 128", params.MaxTokens)
	}
}

func TestBuildParams_NoSystemPrompt(t *testing.T) {
	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if len(params.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero temperature/max tokens should stay unset")
	}
}

func TestStripReasoning(t *testing.T) {
	tests := []struct{ in, want string }{
		{"<think>\nlet me see\n</think>\n\n你好！", "你好！"},
		{"plain answer", "plain answer"},
		{"<think>a</think>x<think>b</think>y", "xy"},
	}
	for _, tc := range tests {
		if got := StripReasoning(tc.in); got != tc.want {
			t.Errorf("StripReasoning(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "m"); err == nil {
		t.Error("expected error for empty provider name")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("nope", "m"); err == nil {
		t.Error("expected error for unsupported provider")
	}
}
