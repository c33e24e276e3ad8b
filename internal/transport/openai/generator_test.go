package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/fieldmate-ai/raggate/internal/domain"
)

func newTestGenerator(baseURL string) *Generator {
	return NewGenerator(&GeneratorConfig{
		APIKey:      "test-key",
		BaseURL:     baseURL,
		Model:       "test-model",
		Temperature: 0.2,
		MaxTokens:   512,
		Provider:    "test",
		Logger:      zap.NewNop(),
	})
}

func TestGenerator_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "정산은 매월 10일입니다."},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 20, "completion_tokens": 8, "total_tokens": 28},
		})
	}))
	defer server.Close()

	gen := newTestGenerator(server.URL)
	result, err := gen.Generate(context.Background(), domain.Prompt{
		System: "도우미 역할",
		User:   "정산일 알려줘",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if result.Text != "정산은 매월 10일입니다." {
		t.Errorf("text = %q", result.Text)
	}
	if result.PromptTokens != 20 || result.CompletionTokens != 8 {
		t.Errorf("usage lost: %+v", result)
	}
}

func TestGenerator_GenerateAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "overloaded", "type": "server_error"},
		})
	}))
	defer server.Close()

	gen := newTestGenerator(server.URL)
	_, err := gen.Generate(context.Background(), domain.Prompt{User: "질문"})
	if !errors.Is(err, domain.ErrGenerationProvider) {
		t.Fatalf("expected ErrGenerationProvider, got %v", err)
	}
}

func streamChunk(content string) string {
	payload, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion.chunk",
		"model":  "test-model",
		"choices": []map[string]any{{
			"index": 0,
			"delta": map[string]any{"content": content},
		}},
	})
	return fmt.Sprintf("data: %s\n\n", payload)
}

func TestGenerator_GenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, streamChunk("정산은 "))
		fmt.Fprint(w, streamChunk("매월 "))
		fmt.Fprint(w, streamChunk("10일입니다."))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	gen := newTestGenerator(server.URL)
	fragments, err := gen.GenerateStream(context.Background(), domain.Prompt{User: "정산일"})
	if err != nil {
		t.Fatalf("GenerateStream failed: %v", err)
	}

	var sb strings.Builder
	for f := range fragments {
		if f.Err != nil {
			t.Fatalf("unexpected fragment error: %v", f.Err)
		}
		sb.WriteString(f.Text)
	}

	if sb.String() != "정산은 매월 10일입니다." {
		t.Errorf("assembled text = %q", sb.String())
	}
}

func TestGenerator_GenerateStreamInitialError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid api key", "type": "invalid_request_error"},
		})
	}))
	defer server.Close()

	gen := newTestGenerator(server.URL)
	_, err := gen.GenerateStream(context.Background(), domain.Prompt{User: "질문"})
	if !errors.Is(err, domain.ErrGenerationProvider) {
		t.Fatalf("expected ErrGenerationProvider, got %v", err)
	}
}
