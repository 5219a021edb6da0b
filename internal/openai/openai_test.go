package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/zyro/internal/model"
	"github.com/stupiduntilnot/zyro/internal/prompt"
)

func newTestClient(url string, timeout time.Duration) *Client {
	return NewClient(Options{APIKey: "test-key", URL: url, Model: "test-model", Timeout: timeout})
}

func TestChatCompletion_RequestShape(t *testing.T) {
	var got map[string]any
	var auth, contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second)
	_, err := client.ChatCompletion(context.Background(), []prompt.Message{
		{Role: prompt.RoleSystem, Content: "persona"},
		{Role: prompt.RoleUser, Content: "hi"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", auth)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "test-model", got["model"])
	assert.Equal(t, 0.7, got["temperature"])
	assert.Equal(t, float64(500), got["max_tokens"])
	assert.Equal(t, false, got["stream"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, map[string]any{"role": "system", "content": "persona"}, msgs[0])
}

func TestChatCompletion_ZeroTemperatureIsSent(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer server.Close()

	zero := 0.0
	client := NewClient(Options{APIKey: "k", URL: server.URL, Model: "m", Temperature: &zero})
	_, err := client.ChatCompletion(context.Background(), []prompt.Message{{Role: prompt.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, got["temperature"])
}

func TestChatCompletion_WithUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "  Hello!\n"}},
			},
			"usage": map[string]any{
				"prompt_tokens":     42,
				"completion_tokens": 7,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second)
	result, err := client.ChatCompletion(context.Background(), []prompt.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)

	assert.Equal(t, "Hello!", result.Content)
	assert.Equal(t, 42, result.InputTokens)
	assert.Equal(t, 7, result.OutputTokens)
}

func TestChatCompletion_EmptyChoicesIsUnexpected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second)
	_, err := client.ChatCompletion(context.Background(), []prompt.Message{{Role: "user", Content: "hi"}})
	f := model.AsFailure(err)
	require.NotNil(t, f)
	assert.Equal(t, model.KindUnexpected, f.Kind)
}

func TestChatCompletion_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second)
	_, err := client.ChatCompletion(context.Background(), []prompt.Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)

	var f *model.Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, model.KindAPIError, f.Kind)
	assert.Equal(t, http.StatusTooManyRequests, f.Status)
	assert.Equal(t, `{"error":"rate limited"}`, f.Body)
}

func TestChatCompletion_NonJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>gateway</html>")
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second)
	_, err := client.ChatCompletion(context.Background(), []prompt.Message{{Role: "user", Content: "hi"}})
	f := model.AsFailure(err)
	require.NotNil(t, f)
	assert.Equal(t, model.KindUnexpected, f.Kind)
	assert.LessOrEqual(t, len([]rune(f.Detail)), model.MaxDetailChars)
}

func TestChatCompletion_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(server.URL, 50*time.Millisecond)
	_, err := client.ChatCompletion(context.Background(), []prompt.Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrTimeout), "got %v", err)
}
