package openai

import (
	"testing"

	"github.com/MrWong99/parla/pkg/provider/llm"
)

func TestConvertMessage_Roles(t *testing.T) {
	sys, err := convertMessage(llm.Message{Role: llm.RoleSystem, Content: "s"})
	if err != nil || sys.OfSystem == nil {
		t.Errorf("system: err=%v OfSystem=%v", err, sys.OfSystem)
	}
	usr, err := convertMessage(llm.Message{Role: llm.RoleUser, Content: "u"})
	if err != nil || usr.OfUser == nil {
		t.Errorf("user: err=%v OfUser=%v", err, usr.OfUser)
	}
	asst, err := convertMessage(llm.Message{Role: llm.RoleAssistant, Content: "a"})
	if err != nil || asst.OfAssistant == nil {
		t.Errorf("assistant: err=%v OfAssistant=%v", err, asst.OfAssistant)
	}
}

func TestConvertMessage_UnknownRole(t *testing.T) {
	if _, err := convertMessage(llm.Message{Role: "tool"}); err == nil {
		t.Fatal("expected error for unsupported role")
	}
}

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "sys",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		MaxTokens:    64,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("first message is not the system prompt")
	}
	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("model = %q", params.Model)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error without key or base URL")
	}
	if _, err := New("", "local", WithBaseURL("http://localhost:8000/v1")); err != nil {
		t.Errorf("local base URL without key: %v", err)
	}
	if _, err := New("sk", ""); err == nil {
		t.Error("expected error for empty model")
	}
}
