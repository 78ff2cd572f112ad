package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClientInvalidURL(t *testing.T) {
	if _, err := NewClient("not a url"); err == nil {
		t.Error("Expected error for URL without scheme and host")
	}
	if _, err := NewClient("http://localhost:11434/api/chat"); err != nil {
		t.Errorf("Expected path to be ignored, got %v", err)
	}
}

func TestProposeRegions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req["model"] != "minicpm-v" {
			http.Error(w, "unexpected model", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"model": "minicpm-v",
			"message": map[string]any{
				"role":    "assistant",
				"content": "```json\n{\"proposals\":[{\"box\":{\"x1\":0.1,\"y1\":0.1,\"x2\":0.5,\"y2\":0.5},\"score\":0.8}]}\n```",
			},
			"done": true,
		})
	}))
	defer server.Close()

	c, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	img := base64.StdEncoding.EncodeToString([]byte("fake image bytes"))
	res, err := c.ProposeRegions(context.Background(), "minicpm-v", "find regions", img)
	if err != nil {
		t.Fatalf("ProposeRegions failed: %v", err)
	}
	if len(res.Proposals) != 1 || res.Proposals[0].Box.X2 != 0.5 || res.Proposals[0].Score != 0.8 {
		t.Errorf("Unexpected proposals %+v", res.Proposals)
	}
}

func TestProposeRegionsBadImage(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.ProposeRegions(context.Background(), "m", "p", "%%%"); err == nil {
		t.Error("Expected error for invalid base64")
	}
}
