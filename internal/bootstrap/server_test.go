package bootstrap

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fedlearn-node/internal/httpapi"
)

func TestServerStatusEndpoint(t *testing.T) {
	node := &Node{Directory: NewDirectory()}
	// Overlay is nil here; handleStatus never touches it.
	s := NewServer(node)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestServerCommandUnknownReturns400(t *testing.T) {
	node := &Node{Directory: NewDirectory()}
	s := NewServer(node)

	body, _ := json.Marshal(httpapi.Command{Cmd: "not-a-real-command"})
	req := httptest.NewRequest(http.MethodPost, "/command", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown command, got %d", rec.Code)
	}
}

func TestServerCommandMesh(t *testing.T) {
	node := &Node{Directory: NewDirectory()}
	node.Directory.Connect("peer-a", "addr-a")
	s := NewServer(node)

	body, _ := json.Marshal(httpapi.Command{Cmd: "mesh"})
	req := httptest.NewRequest(http.MethodPost, "/command", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var env httpapi.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if env.Status != "ok" {
		t.Fatalf("expected status ok, got %s", env.Status)
	}
}
