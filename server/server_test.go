package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/chazu/tcldis"
	"github.com/chazu/tcldis/cache"
)

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	s := New(tcldis.New(), opts...)
	t.Cleanup(s.Stop)
	return s
}

func postJSON(t *testing.T, h http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Decompile endpoint
// ---------------------------------------------------------------------------

func TestDecompileEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := postJSON(t, s.Handler(), "/v1/decompile", decompileRequest{
		Source: "proc p {} { return 1 }",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp decompileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Fatalf("success = false: %s", rec.Body.String())
	}
	if len(resp.Steps) == 0 {
		t.Error("missing steps")
	}
	if resp.Cached {
		t.Error("first request should not be cached")
	}
}

func TestDecompileEndpointStageFailure(t *testing.T) {
	s := newTestServer(t)
	rec := postJSON(t, s.Handler(), "/v1/decompile", decompileRequest{
		Source: "set a 1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp decompileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Success {
		t.Fatal("expected failure for source without the wrapped procedure")
	}
	if resp.Stage == nil || *resp.Stage != 2 {
		t.Errorf("stage = %v, want 2 (bytecode retrieval)", resp.Stage)
	}
	if resp.StageName != "bytecode retrieval" {
		t.Errorf("stage name = %q", resp.StageName)
	}
}

func TestDecompileEndpointBadRequests(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/decompile", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", rec.Code)
	}

	rec = postJSON(t, s.Handler(), "/v1/decompile", decompileRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty source: status = %d, want 400", rec.Code)
	}
}

func TestDecompileEndpointMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/decompile", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Caching
// ---------------------------------------------------------------------------

func TestDecompileEndpointCaches(t *testing.T) {
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	s := newTestServer(t, WithCache(store))
	req := decompileRequest{Source: "proc p {} { return 1 }"}

	rec := postJSON(t, s.Handler(), "/v1/decompile", req)
	var first decompileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatal(err)
	}
	if !first.Success || first.Cached {
		t.Fatalf("first response: %s", rec.Body.String())
	}

	rec = postJSON(t, s.Handler(), "/v1/decompile", req)
	var second decompileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatal(err)
	}
	if !second.Success || !second.Cached {
		t.Fatalf("second response should come from cache: %s", rec.Body.String())
	}
	if !bytes.Equal(first.Steps, second.Steps) {
		t.Error("cached steps differ from the original result")
	}
}

func TestDecompileEndpointFailuresNotCached(t *testing.T) {
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	s := newTestServer(t, WithCache(store))
	postJSON(t, s.Handler(), "/v1/decompile", decompileRequest{Source: "set a 1"})

	n, err := store.Len()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("cache has %d entries, failures should not be cached", n)
	}
}

// ---------------------------------------------------------------------------
// Disassemble and health endpoints
// ---------------------------------------------------------------------------

func TestDisassembleEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := postJSON(t, s.Handler(), "/v1/disassemble", disassembleRequest{
		Source: "proc p {} { return 1 }",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp disassembleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Listing == "" {
		t.Errorf("response = %s", rec.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("response = %v", resp)
	}
}

// ---------------------------------------------------------------------------
// Worker
// ---------------------------------------------------------------------------

func TestWorkerSerializesCalls(t *testing.T) {
	w := NewWorker(tcldis.New())
	defer w.Stop()

	value, err := w.Do(func(p *tcldis.Pipeline) interface{} {
		out, err := p.Decompile("proc p {} { return 1 }")
		if err != nil {
			return err
		}
		return out
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := value.(string); !ok {
		t.Fatalf("value = %T: %v", value, value)
	}
}

func TestWorkerRecoversPanic(t *testing.T) {
	w := NewWorker(tcldis.New())
	defer w.Stop()

	_, err := w.Do(func(p *tcldis.Pipeline) interface{} {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panicking function")
	}
}

func TestWorkerStopped(t *testing.T) {
	w := NewWorker(tcldis.New())
	w.Stop()

	_, err := w.Do(func(p *tcldis.Pipeline) interface{} { return nil })
	if err == nil {
		t.Error("Do after Stop should fail")
	}
}
