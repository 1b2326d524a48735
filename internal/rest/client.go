// Package rest talks to the upstream ledger API: entries, lookup lists and
// login.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"lancamentos/internal/auth"
	"lancamentos/internal/cache"
	"lancamentos/internal/log"
	"lancamentos/internal/middleware/trace"
	"lancamentos/internal/ports"
	"lancamentos/internal/wire"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	pathEntries     = "/api/lancamentos"
	pathLogin       = "/api/auth/login"
	maxResponseBody = 16 << 20
	tokenSkew       = 30 * time.Second
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = ports.ErrNotFound
)

// lookupPaths maps each lookup kind to its collection endpoint.
var lookupPaths = map[wire.LookupKind]string{
	wire.Accounts:       "/api/contas",
	wire.Counterparties: "/api/pessoas",
	wire.CostCenters:    "/api/centroCustos",
}

// StatusError is returned for any non-2xx response not covered by a
// sentinel.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

type Config struct {
	BaseURL     string
	Username    string
	Password    string
	Timeout     time.Duration
	LookupTTL   time.Duration
	Credentials auth.CredentialStore
	HTTPClient  *http.Client
	Logger      *log.Logger
}

// Client implements ports.Ledger against the REST API.
type Client struct {
	base     *url.URL
	username string
	password string
	http     *http.Client
	creds    auth.CredentialStore
	lookups  *cache.LRUCache[[]wire.RefRecord]
	logger   *log.Logger
	now      func() time.Time

	loginMu sync.Mutex
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("parse base url: unsupported scheme %q", base.Scheme)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	creds := cfg.Credentials
	if creds == nil {
		creds = auth.NewMemoryStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &Client{
		base:     base,
		username: cfg.Username,
		password: cfg.Password,
		http:     httpClient,
		creds:    creds,
		lookups:  cache.NewLRUCache[[]wire.RefRecord](len(lookupPaths), cfg.LookupTTL),
		logger:   logger.WithComponent(log.ComponentREST),
		now:      time.Now,
	}, nil
}

// LookupCache exposes the lookup cache so it can be registered for cleanup.
func (c *Client) LookupCache() *cache.LRUCache[[]wire.RefRecord] {
	return c.lookups
}

// Login exchanges the configured username and password for a token and
// stores it.
func (c *Client) Login(ctx context.Context) error {
	if c.username == "" {
		return fmt.Errorf("login: %w: no credentials configured", ErrUnauthorized)
	}
	body, err := json.Marshal(map[string]string{"username": c.username, "password": c.password})
	if err != nil {
		return fmt.Errorf("encode login body: %w", err)
	}
	resp, err := c.send(ctx, http.MethodPost, pathLogin, body, "")
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	token, err := auth.TokenFromLoginResponse(resp)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := c.creds.Set(token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	c.logger.InfoContext(ctx, "Logged in to ledger API", log.FieldOperation, log.OpLogin)
	return nil
}

// Ping verifies that a usable token exists.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.token(ctx, false)
	return err
}

// token returns a usable bearer token, logging in when none is stored, the
// stored one is about to expire, or force is set.
func (c *Client) token(ctx context.Context, force bool) (string, error) {
	if !force {
		if t, err := c.creds.Get(); err == nil && !auth.Expired(t, c.now(), tokenSkew) {
			return t, nil
		}
	}
	if c.username == "" {
		if t, err := c.creds.Get(); err == nil && !force {
			return t, nil
		}
		return "", fmt.Errorf("%w: no token and no credentials", ErrUnauthorized)
	}

	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if !force {
		if t, err := c.creds.Get(); err == nil && !auth.Expired(t, c.now(), tokenSkew) {
			return t, nil
		}
	}
	if err := c.Login(ctx); err != nil {
		return "", err
	}
	return c.creds.Get()
}

// do sends an authenticated request. A 401 triggers one fresh login and a
// single retry when credentials are configured.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	tok, err := c.token(ctx, false)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, method, path, body, tok)
	if !errors.Is(err, ErrUnauthorized) || c.username == "" {
		return resp, err
	}
	c.logger.WarnContext(ctx, "Token rejected, logging in again", log.FieldPath, path)
	_ = c.creds.Clear()
	if tok, err = c.token(ctx, true); err != nil {
		return nil, err
	}
	return c.send(ctx, method, path, body, tok)
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, token string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	reqID := trace.GetRequestID(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	req.Header.Set(trace.HeaderRequestID, reqID)

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	c.logger.DebugContext(ctx, "Ledger API call",
		log.FieldMethod, method,
		log.FieldPath, path,
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds(),
		log.FieldRequestID, reqID)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: snippet(data)}
	}
	return data, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// ListEntries implements ports.EntrySource
func (c *Client) ListEntries(ctx context.Context) ([]wire.Record, error) {
	data, err := c.do(ctx, http.MethodGet, pathEntries, nil)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	if isNull(data) {
		return []wire.Record{}, nil
	}
	records, err := wire.DecodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return records, nil
}

// GetEntry implements ports.EntrySource
func (c *Client) GetEntry(ctx context.Context, id int64) (wire.Record, error) {
	data, err := c.do(ctx, http.MethodGet, entryPath(id), nil)
	if err != nil {
		return wire.Record{}, fmt.Errorf("get entry %d: %w", id, err)
	}
	var r wire.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return wire.Record{}, fmt.Errorf("decode entry %d: %w", id, err)
	}
	return r, nil
}

// ListLookups implements ports.LookupSource. Lists are cached for the
// configured TTL.
func (c *Client) ListLookups(ctx context.Context, kind wire.LookupKind) ([]wire.RefRecord, error) {
	path, ok := lookupPaths[kind]
	if !ok {
		return nil, fmt.Errorf("list lookups: unknown kind %q", kind)
	}
	return c.lookups.GetOrLoad(ctx, string(kind), func(ctx context.Context) ([]wire.RefRecord, error) {
		data, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", kind, err)
		}
		var records []wire.RefRecord
		if isNull(data) {
			return records, nil
		}
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return records, nil
	})
}

// FetchAllLookups loads the three lookup lists concurrently.
func (c *Client) FetchAllLookups(ctx context.Context) (map[wire.LookupKind][]wire.RefRecord, error) {
	return FetchAllLookups(ctx, c)
}

// FetchAllLookups loads every lookup kind from src concurrently.
func FetchAllLookups(ctx context.Context, src ports.LookupSource) (map[wire.LookupKind][]wire.RefRecord, error) {
	results := make([][]wire.RefRecord, len(wire.LookupKinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range wire.LookupKinds {
		g.Go(func() error {
			records, err := src.ListLookups(gctx, kind)
			if err != nil {
				return err
			}
			results[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[wire.LookupKind][]wire.RefRecord, len(results))
	for i, kind := range wire.LookupKinds {
		out[kind] = results[i]
	}
	return out, nil
}

// CreateEntry implements ports.EntryWriter. The id is read from the
// response body when the API returns the created record; otherwise 0.
func (c *Client) CreateEntry(ctx context.Context, patch wire.Patch) (int64, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return 0, fmt.Errorf("encode patch: %w", err)
	}
	data, err := c.do(ctx, http.MethodPost, pathEntries, body)
	if err != nil {
		return 0, fmt.Errorf("create entry: %w", err)
	}
	return createdID(data), nil
}

// UpdateEntry implements ports.EntryWriter
func (c *Client) UpdateEntry(ctx context.Context, id int64, patch wire.Patch) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}
	if _, err := c.do(ctx, http.MethodPut, entryPath(id), body); err != nil {
		return fmt.Errorf("update entry %d: %w", id, err)
	}
	return nil
}

// DeleteEntry implements ports.EntryWriter
func (c *Client) DeleteEntry(ctx context.Context, id int64) error {
	if _, err := c.do(ctx, http.MethodDelete, entryPath(id), nil); err != nil {
		return fmt.Errorf("delete entry %d: %w", id, err)
	}
	return nil
}

func entryPath(id int64) string {
	return pathEntries + "/" + strconv.FormatInt(id, 10)
}

func isNull(b []byte) bool {
	s := strings.TrimSpace(string(b))
	return s == "" || s == "null"
}

func createdID(b []byte) int64 {
	if isNull(b) {
		return 0
	}
	var r struct {
		ID wire.ID `json:"id"`
	}
	if err := json.Unmarshal(b, &r); err != nil {
		return 0
	}
	return int64(r.ID)
}
