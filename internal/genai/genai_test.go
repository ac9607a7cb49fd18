package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

func TestIsOverloaded(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrOverloaded, true},
		{"wrapped sentinel", fmt.Errorf("call failed: %w", ErrOverloaded), true},
		{"overloaded marker", errors.New("the model is Overloaded, try later"), true},
		{"rate limit marker", errors.New("rate limit exceeded"), true},
		{"status in text", errors.New("unexpected status 503"), true},
		{"plain failure", errors.New("invalid request: missing field"), false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("request: %w", context.DeadlineExceeded), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsOverloaded(tc.err); got != tc.want {
				t.Errorf("IsOverloaded(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestCost(t *testing.T) {
	usage := TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}
	if got := Cost(string(openai.ChatModelGPT4oMini), usage); got != 0.75 {
		t.Errorf("mini cost = %v, want 0.75", got)
	}
	if got := Cost("some-unknown-model", usage); got != 12.50 {
		t.Errorf("unknown model cost = %v, want primary tier 12.50", got)
	}
}

func TestEstimateUsage(t *testing.T) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage(strings.Repeat("a", 80)),
	}
	usage := EstimateUsage(messages, strings.Repeat("b", 40))
	if usage.PromptTokens < 20 {
		t.Errorf("PromptTokens = %d, want at least 20", usage.PromptTokens)
	}
	if usage.CompletionTokens != 10 {
		t.Errorf("CompletionTokens = %d, want 10", usage.CompletionTokens)
	}
	if usage.Total() != usage.PromptTokens+usage.CompletionTokens {
		t.Errorf("Total mismatch")
	}
}

// streamChunks writes a minimal SSE chat completion stream.
func streamChunks(w http.ResponseWriter, model, content string) {
	w.Header().Set("Content-Type", "text/event-stream")
	fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":%q,\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":%q},\"finish_reason\":null}]}\n\n", model, content)
	fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":%q,\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n", model)
	fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":%q,\"choices\":[],\"usage\":{\"prompt_tokens\":12,\"completion_tokens\":3,\"total_tokens\":15}}\n\n", model)
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func requestModel(t *testing.T, r *http.Request) string {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var req struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return req.Model
}

func newTestClient(serverURL string) *Client {
	return &Client{
		client: openai.NewClient(
			option.WithAPIKey("test-key"),
			option.WithBaseURL(serverURL),
			option.WithMaxRetries(0),
		),
		primaryModel:  DefaultPrimaryModel,
		fallbackModel: DefaultFallbackModel,
	}
}

func TestGenerateWithMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamChunks(w, requestModel(t, r), "Olá, tudo bem?")
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	got, err := c.GenerateWithMessages(context.Background(), []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage("oi"),
	})
	if err != nil {
		t.Fatalf("GenerateWithMessages: %v", err)
	}
	if got != "Olá, tudo bem?" {
		t.Errorf("content = %q", got)
	}
}

func TestFallbackOnOverload(t *testing.T) {
	var primaryHits, fallbackHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		model := requestModel(t, r)
		if model == string(DefaultPrimaryModel) {
			primaryHits.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"message":"model overloaded","type":"server_error"}}`)
			return
		}
		fallbackHits.Add(1)
		streamChunks(w, model, "resposta do modelo reserva")
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	resp, err := c.GenerateWithTools(context.Background(), []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage("oi"),
	}, nil)
	if err != nil {
		t.Fatalf("GenerateWithTools: %v", err)
	}
	if !resp.UsedFallback {
		t.Error("UsedFallback = false, want true")
	}
	if resp.Content != "resposta do modelo reserva" {
		t.Errorf("content = %q", resp.Content)
	}
	if got := primaryHits.Load(); got != int32(maxOverloadRetries+1) {
		t.Errorf("primary attempts = %d, want %d", got, maxOverloadRetries+1)
	}
	if fallbackHits.Load() != 1 {
		t.Errorf("fallback attempts = %d, want 1", fallbackHits.Load())
	}
}

func TestNonOverloadErrorPropagates(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"invalid request: bad tool schema","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.GenerateWithTools(context.Background(), []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage("oi"),
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if hits.Load() != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on non-overload)", hits.Load())
	}
}

func TestGenerateWithToolsParsesToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		model := requestModel(t, r)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":%q,\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"type\":\"function\",\"function\":{\"name\":\"find_person\",\"arguments\":\"{\\\"name\\\":\\\"Ana\\\"}\"}}]},\"finish_reason\":null}]}\n\n", model)
		fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":%q,\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n", model)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	resp, err := c.GenerateWithTools(context.Background(), []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage("quem é Ana?"),
	}, nil)
	if err != nil {
		t.Fatalf("GenerateWithTools: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_1" || tc.Function.Name != "find_person" {
		t.Errorf("tool call = %+v", tc)
	}
	var args struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(tc.Function.Arguments, &args); err != nil {
		t.Fatalf("arguments: %v", err)
	}
	if args.Name != "Ana" {
		t.Errorf("args.Name = %q", args.Name)
	}
}
