package client

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fedlearn-node/internal/httpapi"
	"fedlearn-node/internal/ledger"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	ov := newTestOverlay(t)
	c, err := New(ov, ledger.NewFake(), fakeStore{}, "0xclientaddr", "")
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return c
}

func TestServerStatusEndpoint(t *testing.T) {
	s := NewServer(newTestClient(t))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestServerCommandUnknownReturns400(t *testing.T) {
	s := NewServer(newTestClient(t))

	body, _ := json.Marshal(httpapi.Command{Cmd: "not-a-real-command"})
	req := httptest.NewRequest(http.MethodPost, "/command", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestServerCommandLocalAndTopics(t *testing.T) {
	s := NewServer(newTestClient(t))

	for _, cmd := range []string{"local", "topics", "peers", "mesh"} {
		body, _ := json.Marshal(httpapi.Command{Cmd: cmd})
		req := httptest.NewRequest(http.MethodPost, "/command", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("cmd %s: expected 200, got %d: %s", cmd, rec.Code, rec.Body.String())
		}
		var env httpapi.Envelope
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("cmd %s: decode response: %v", cmd, err)
		}
		if env.Status != "ok" {
			t.Fatalf("cmd %s: expected status ok, got %s", cmd, env.Status)
		}
	}
}

func TestServerCommandBootmeshWithoutBootstrapFails(t *testing.T) {
	s := NewServer(newTestClient(t))

	body, _ := json.Marshal(httpapi.Command{Cmd: "bootmesh"})
	req := httptest.NewRequest(http.MethodPost, "/command", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 with no bootstrap configured, got %d", rec.Code)
	}
}

func TestResultsEndpointEmptyBeforeAnyRound(t *testing.T) {
	s := NewServer(newTestClient(t))

	req := httptest.NewRequest(http.MethodGet, "/results", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var env httpapi.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	result := env.Result.(map[string]any)
	if results, ok := result["results"].([]any); !ok || len(results) != 0 {
		t.Fatalf("expected empty results with no round yet, got %v", result["results"])
	}
}

func TestGeneratePresignedURL(t *testing.T) {
	s := NewServer(newTestClient(t))

	body, _ := json.Marshal(presignRequest{Hash: "deadbeef"})
	req := httptest.NewRequest(http.MethodPost, "/generate-presigned-url", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var env httpapi.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	result := env.Result.(map[string]any)
	if result["hash"] != "deadbeef" {
		t.Fatalf("unexpected hash in result: %v", result)
	}
}
