package llamacpp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T, status int, content any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if status != http.StatusOK {
			http.Error(w, "model not loaded", status)
			return
		}
		json.NewEncoder(w).Encode(ChatCompletionResponse{
			Model:   req.Model,
			Choices: []Choice{{Message: Message{Role: "assistant", Content: content}}},
		})
	}))
}

func TestProposeRegionsStringContent(t *testing.T) {
	server := newTestServer(t, http.StatusOK,
		`{"proposals":[{"box":{"x1":0,"y1":0,"x2":0.5,"y2":0.5},"score":0.7},{"box":{"x1":0.5,"y1":0.5,"x2":1,"y2":1},"score":0.6}]}`)
	defer server.Close()

	c, _ := NewClient(server.URL + "/")
	res, err := c.ProposeRegions(context.Background(), "llava", "find regions", "aGVsbG8=")
	if err != nil {
		t.Fatalf("ProposeRegions failed: %v", err)
	}
	if len(res.Proposals) != 2 {
		t.Fatalf("Expected 2 proposals, got %d", len(res.Proposals))
	}
}

func TestProposeRegionsArrayContent(t *testing.T) {
	server := newTestServer(t, http.StatusOK, []map[string]string{
		{"type": "text", "text": `{"proposals":[{"box":{"x1":0.2,"y1":0.2,"x2":0.3,"y2":0.3},"score":0.9}]}`},
	})
	defer server.Close()

	c, _ := NewClient(server.URL)
	res, err := c.ProposeRegions(context.Background(), "llava", "find regions", "")
	if err != nil {
		t.Fatalf("ProposeRegions failed: %v", err)
	}
	if len(res.Proposals) != 1 || res.Proposals[0].Score != 0.9 {
		t.Errorf("Unexpected proposals %+v", res.Proposals)
	}
}

func TestProposeRegionsServerError(t *testing.T) {
	server := newTestServer(t, http.StatusServiceUnavailable, nil)
	defer server.Close()

	c, _ := NewClient(server.URL)
	_, err := c.ProposeRegions(context.Background(), "llava", "p", "")
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("Expected status error, got %v", err)
	}
}

func TestSimpleQuery(t *testing.T) {
	server := newTestServer(t, http.StatusOK, "a portrait of a woman")
	defer server.Close()

	c, _ := NewClient(server.URL)
	text, err := c.SimpleQuery(context.Background(), "llava", "describe", "aGVsbG8=")
	if err != nil {
		t.Fatalf("SimpleQuery failed: %v", err)
	}
	if text != "a portrait of a woman" {
		t.Errorf("Unexpected reply %q", text)
	}
}
