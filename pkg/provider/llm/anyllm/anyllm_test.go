package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/agentfield/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("empty provider name did not error")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("empty model did not error")
	}
	if _, err := New("telepathy", "gpt-4o"); err == nil || !strings.Contains(err.Error(), "unsupported provider") {
		t.Errorf("unsupported provider error = %v", err)
	}
}

func TestNew_KnownBackends(t *testing.T) {
	t.Parallel()

	// Construction must not require a live endpoint or a real key.
	for _, name := range []string{
		"openai", "anthropic", "gemini", "ollama",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p, err := New(name, "some-model", anyllmlib.WithAPIKey("test-key"))
			if err != nil {
				t.Fatalf("New(%q): %v", name, err)
			}
			if p.model != "some-model" {
				t.Errorf("model = %q", p.model)
			}
		})
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are Marn, a blacksmith.",
		Messages: []llm.Message{
			{Role: "user", Content: "Morning."},
			{Role: "assistant", Content: "Hm."},
		},
		Temperature: 0.7,
		MaxTokens:   256,
	})

	if params.Model != "gpt-4o" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("messages = %d, want system + 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].Content != "You are Marn, a blacksmith." {
		t.Errorf("system message = %+v", params.Messages[0])
	}
	if params.Messages[1].Role != "user" || params.Messages[2].Role != "assistant" {
		t.Errorf("history roles = %q, %q", params.Messages[1].Role, params.Messages[2].Role)
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
}

func TestBuildParams_ZeroValuesStayUnset(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "Morning."}},
	})
	if len(params.Messages) != 1 {
		t.Errorf("messages = %d, want 1 without a system prompt", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Errorf("zero tuning produced temperature=%v max_tokens=%v", params.Temperature, params.MaxTokens)
	}
}

func TestCountTokens_ScalesWithContent(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o"}
	short, err := p.CountTokens([]llm.Message{{Role: "user", Content: "Hi."}})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	long, err := p.CountTokens([]llm.Message{
		{Role: "user", Content: strings.Repeat("the marsh road is flooded ", 40)},
	})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if short <= 0 || long <= short {
		t.Errorf("counts short=%d long=%d, want 0 < short < long", short, long)
	}
}

func TestModelCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model       string
		wantContext int
	}{
		{"gpt-4o-mini", 128_000},
		{"gpt-4", 8_192},
		{"o3-mini", 200_000},
		{"claude-3-5-sonnet-latest", 200_000},
		{"gemini-1.5-pro", 2_097_152},
		{"gemini-2.0-flash", 1_048_576},
		{"some-local-model", 128_000},
	}
	for _, tc := range tests {
		t.Run(tc.model, func(t *testing.T) {
			t.Parallel()
			caps := modelCapabilities(tc.model)
			if caps.ContextWindow != tc.wantContext {
				t.Errorf("context window = %d, want %d", caps.ContextWindow, tc.wantContext)
			}
			if caps.MaxOutputTokens <= 0 {
				t.Errorf("max output tokens = %d", caps.MaxOutputTokens)
			}
		})
	}
}
