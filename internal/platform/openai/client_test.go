package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/docuchat/docuchat-core/internal/platform/logger"
)

func newTestClient(t *testing.T, handler http.Handler) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_BASE_URL", srv.URL)
	t.Setenv("OPENAI_MAX_RETRIES", "0")

	c, err := NewClient(logger.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestEmbedRestoresInputOrder(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path: got=%q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0.2,0.2]},
			{"index":0,"embedding":[0.1,0.1]}
		]}`))
	}))

	vecs, err := c.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("vector count: want=2 got=%d", len(vecs))
	}
	if vecs[0][0] != 0.1 || vecs[1][0] != 0.2 {
		t.Fatalf("order not restored: got=%v", vecs)
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty input")
	}))

	vecs, err := c.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 0 {
		t.Fatalf("want empty result, got=%v", vecs)
	}
}

func TestStreamTextForwardsDeltas(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		body := strings.Join([]string{
			`event: response.output_text.delta`,
			`data: {"type":"response.output_text.delta","delta":"Hello"}`,
			``,
			`event: response.output_text.delta`,
			`data: {"type":"response.output_text.delta","delta":", world"}`,
			``,
			`event: response.completed`,
			`data: {"type":"response.completed"}`,
			``,
			`data: [DONE]`,
			``,
		}, "\n")
		_, _ = w.Write([]byte(body))
	}))

	var deltas []string
	full, err := c.StreamText(context.Background(), "sys", "hi", func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("StreamText: %v", err)
	}
	if full != "Hello, world" {
		t.Fatalf("full text: want=%q got=%q", "Hello, world", full)
	}
	if len(deltas) != 2 {
		t.Fatalf("deltas: want=2 got=%d (%v)", len(deltas), deltas)
	}
}

func TestStreamTextSurfacesStreamError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"error\":{\"message\":\"rate limited\"}}\n\n"))
	}))

	_, err := c.StreamText(context.Background(), "sys", "hi", nil)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("want stream error, got=%v", err)
	}
}

func TestStreamSSEJoinsMultiLineData(t *testing.T) {
	input := "event: note\ndata: line1\ndata: line2\n\n"
	var gotEvent, gotData string
	err := streamSSE(strings.NewReader(input), func(event, data string) error {
		gotEvent, gotData = event, data
		return nil
	})
	if err != nil {
		t.Fatalf("streamSSE: %v", err)
	}
	if gotEvent != "note" {
		t.Fatalf("event: want=%q got=%q", "note", gotEvent)
	}
	if gotData != "line1\nline2" {
		t.Fatalf("data: want=%q got=%q", "line1\nline2", gotData)
	}
}

func TestGenerateTextExtractsOutput(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":[
			{"type":"reasoning","role":"assistant","content":[]},
			{"type":"message","role":"assistant","content":[{"type":"output_text","text":"answer"}]}
		]}`))
	}))

	got, err := c.GenerateText(context.Background(), "sys", "question")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if got != "answer" {
		t.Fatalf("text: want=%q got=%q", "answer", got)
	}
}
