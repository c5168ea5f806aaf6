package summarize

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
)

func sampleItems() map[string][]harvest.Item {
	return map[string][]harvest.Item{
		"alice": {
			{Handle: "alice", Followers: 10, Text: "quiet post", Likes: 1},
			{Handle: "alice", Followers: 10, Text: "viral post", Likes: 100, Shares: 10},
		},
		"bob":   {{Handle: "bob", Followers: 20, Text: "shared post", Likes: 5, Shares: 40}},
		"carol": {},
	}
}

func TestRankOrdersByEngagement(t *testing.T) {
	t.Parallel()

	ranked := Rank(sampleItems())
	require.Len(t, ranked, 3)
	require.Equal(t, "viral post", ranked[0].Text)
	require.Equal(t, "shared post", ranked[1].Text)
	require.Equal(t, "quiet post", ranked[2].Text)
	require.Equal(t, 125, Engagement(ranked[1]))
}

func TestRenderPostsBudget(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 500)
	posts := []harvest.Item{{Handle: "a", Text: long}, {Handle: "b", Text: "short"}}

	text, used := renderPosts(posts, 10, 10_000)
	require.Equal(t, 2, used)
	require.NotContains(t, text, strings.Repeat("x", maxPostChars+1))

	_, used = renderPosts(posts, 1, 10_000)
	require.Equal(t, 1, used)

	_, used = renderPosts(posts, 10, 50)
	require.Equal(t, 0, used)
}

func TestDigest(t *testing.T) {
	t.Parallel()

	out, err := Digest{Top: 2}.Summarize(context.Background(), sampleItems())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "3 posts from 2 active accounts."))
	require.Contains(t, out, "viral post")
	require.Contains(t, out, "shared post")
	require.NotContains(t, out, "quiet post")

	_, err = Digest{}.Summarize(context.Background(), map[string][]harvest.Item{"a": {}})
	require.ErrorIs(t, err, ErrNoItems)
}

func TestStripFences(t *testing.T) {
	t.Parallel()

	require.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	require.Equal(t, `{"a":1}`, stripFences("  {\"a\":1}  "))
}

func messageResponse(text string) map[string]any {
	return map[string]any{
		"id":            "msg_test",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-test",
		"content":       []map[string]any{{"type": "text", "text": text}},
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"usage":         map[string]any{"input_tokens": 10, "output_tokens": 5},
	}
}

func TestAnthropicSummarize(t *testing.T) {
	t.Parallel()

	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Api-Key") != "sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		gotPrompt = string(body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse("```json\n{\"title\":\"report\"}\n```"))
	}))
	t.Cleanup(srv.Close)

	s := NewAnthropic(AnthropicConfig{APIKey: "sk-test", Model: "claude-test", BaseURL: srv.URL}, nil)
	s.now = func() time.Time { return time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC) }

	out, err := s.Summarize(context.Background(), sampleItems())
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"report"}`, out)
	require.Contains(t, gotPrompt, "viral post")
	require.Contains(t, gotPrompt, "October 19, 2026")
	require.Contains(t, gotPrompt, "claude-test")
}

func TestAnthropicRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse(`{"title": "trunc`))
	}))
	t.Cleanup(srv.Close)

	s := NewAnthropic(AnthropicConfig{APIKey: "sk-test", BaseURL: srv.URL}, nil)
	_, err := s.Summarize(context.Background(), sampleItems())
	require.Error(t, err)
	require.Contains(t, err.Error(), "not valid JSON")
}

func TestAnthropicNoItems(t *testing.T) {
	t.Parallel()

	s := NewAnthropic(AnthropicConfig{APIKey: "sk-test", BaseURL: "http://127.0.0.1:1"}, nil)
	_, err := s.Summarize(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoItems)
}
