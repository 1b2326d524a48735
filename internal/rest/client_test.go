package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lancamentos/internal/auth"
	"lancamentos/internal/middleware/trace"
	"lancamentos/internal/wire"
)

func (api *fakeAPI) last() (string, string, map[string]any) {
	api.mu.Lock()
	defer api.mu.Unlock()
	return api.lastMethod, api.lastPath, api.lastBody
}

type fakeAPI struct {
	mu         sync.Mutex
	validToken string
	logins     int32
	lookupHits map[string]int
	lastBody   map[string]any
	lastMethod string
	lastPath   string
	requestIDs []string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	api := &fakeAPI{validToken: "tok-1", lookupHits: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["username"] != "admin" || body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		atomic.AddInt32(&api.logins, 1)
		api.mu.Lock()
		tok := api.validToken
		api.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "Bearer " + tok})
	})
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			api.mu.Lock()
			ok := r.Header.Get("Authorization") == "Bearer "+api.validToken
			api.requestIDs = append(api.requestIDs, r.Header.Get(trace.HeaderRequestID))
			api.lastMethod, api.lastPath = r.Method, r.URL.Path
			api.mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			h(w, r)
		}
	}
	mux.HandleFunc("GET /api/lancamentos", authed(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id": 1, "descricao": "Aluguel", "dataLancamento": "01/03/2024", "valorDocumento": "1500", "tipoLancamento": "D"},
			{"id": "2", "valorDocumento": 10.5, "tipoLancamento": 0}]`)
	}))
	mux.HandleFunc("GET /api/lancamentos/{id}", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, `{"id": 1, "descricao": "Aluguel"}`)
	}))
	write := authed(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		api.mu.Lock()
		api.lastBody = body
		api.mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			io.WriteString(w, `{"id": 77}`)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
	mux.HandleFunc("POST /api/lancamentos", write)
	mux.HandleFunc("PUT /api/lancamentos/{id}", write)
	mux.HandleFunc("DELETE /api/lancamentos/{id}", write)
	for _, p := range []string{"/api/contas", "/api/pessoas", "/api/centroCustos"} {
		path := p
		mux.HandleFunc("GET "+path, authed(func(w http.ResponseWriter, r *http.Request) {
			api.mu.Lock()
			api.lookupHits[path]++
			api.mu.Unlock()
			io.WriteString(w, `[{"id": 1, "nome": "Um"}, {"id": 2}]`)
		}))
	}
	mux.HandleFunc("GET /api/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "kaboom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return api, srv
}

func newTestClient(t *testing.T, url string, ttl time.Duration) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: url, Username: "admin", Password: "secret", LookupTTL: ttl})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestClient_ListEntriesLogsInLazily(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := newTestClient(t, srv.URL, time.Minute)

	records, err := c.ListEntries(context.Background())
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(records) != 2 || records[1].ID != 2 || records[0].PostingDate != "01/03/2024" {
		t.Fatalf("unexpected records %+v", records)
	}
	if _, err := c.ListEntries(context.Background()); err != nil {
		t.Fatalf("second ListEntries: %v", err)
	}
	if n := atomic.LoadInt32(&api.logins); n != 1 {
		t.Fatalf("logins = %d, want 1", n)
	}
}

func TestClient_ReloginOnUnauthorized(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := newTestClient(t, srv.URL, time.Minute)
	if _, err := c.ListEntries(context.Background()); err != nil {
		t.Fatal(err)
	}

	api.mu.Lock()
	api.validToken = "tok-2"
	api.mu.Unlock()

	if _, err := c.ListEntries(context.Background()); err != nil {
		t.Fatalf("ListEntries after rotation: %v", err)
	}
	if n := atomic.LoadInt32(&api.logins); n != 2 {
		t.Fatalf("logins = %d, want 2", n)
	}
}

func TestClient_NoCredentials(t *testing.T) {
	_, srv := newFakeAPI(t)
	c, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.ListEntries(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	store := auth.NewMemoryStore()
	_ = store.Set("tok-1")
	c, _ = New(Config{BaseURL: srv.URL, Credentials: store})
	if _, err := c.ListEntries(context.Background()); err != nil {
		t.Fatalf("stored token should be used: %v", err)
	}
}

func TestClient_GetEntry(t *testing.T) {
	_, srv := newFakeAPI(t)
	c := newTestClient(t, srv.URL, time.Minute)

	r, err := c.GetEntry(context.Background(), 1)
	if err != nil || r.Description != "Aluguel" {
		t.Fatalf("GetEntry = %+v, %v", r, err)
	}
	if _, err := c.GetEntry(context.Background(), 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClient_Writes(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := newTestClient(t, srv.URL, time.Minute)
	ctx := trace.WithRequestID(context.Background(), "req-fixed")

	patch := wire.ToWire(wire.PatchInput{
		Description: wire.Set("Nova"),
		AccountID:   wire.Set(int64(3)),
	})
	id, err := c.CreateEntry(ctx, patch)
	if err != nil || id != 77 {
		t.Fatalf("CreateEntry = %d, %v", id, err)
	}
	if _, _, body := api.last(); body["descricao"] != "Nova" || len(body) != 2 {
		t.Fatalf("unexpected create body %v", body)
	}

	if err := c.UpdateEntry(ctx, 5, wire.Patch{"situacao": "Baixado"}); err != nil {
		t.Fatalf("UpdateEntry: %v", err)
	}
	if method, path, _ := api.last(); method != http.MethodPut || path != "/api/lancamentos/5" {
		t.Fatalf("update hit %s %s", method, path)
	}
	if err := c.DeleteEntry(ctx, 5); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	if method, _, _ := api.last(); method != http.MethodDelete {
		t.Fatalf("delete hit %s", method)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	for _, id := range api.requestIDs {
		if id != "req-fixed" {
			t.Fatalf("request id not propagated: %v", api.requestIDs)
		}
	}
}

func TestClient_LookupsCachedAndConcurrent(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := newTestClient(t, srv.URL, time.Minute)

	all, err := c.FetchAllLookups(context.Background())
	if err != nil {
		t.Fatalf("FetchAllLookups: %v", err)
	}
	for _, k := range wire.LookupKinds {
		if len(all[k]) != 2 {
			t.Fatalf("%s: got %+v", k, all[k])
		}
	}
	if _, err := c.ListLookups(context.Background(), wire.Accounts); err != nil {
		t.Fatal(err)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	for path, hits := range api.lookupHits {
		if hits != 1 {
			t.Errorf("%s fetched %d times, want 1", path, hits)
		}
	}
}

func TestClient_LookupUnknownKind(t *testing.T) {
	_, srv := newFakeAPI(t)
	c := newTestClient(t, srv.URL, time.Minute)
	if _, err := c.ListLookups(context.Background(), "bancos"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestClient_StatusError(t *testing.T) {
	_, srv := newFakeAPI(t)
	c := newTestClient(t, srv.URL, time.Minute)
	_, err := c.send(context.Background(), http.MethodGet, "/api/broken", nil, "")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError || se.Body != "kaboom" {
		t.Fatalf("expected StatusError, got %v", err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "ftp://x"}); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}
