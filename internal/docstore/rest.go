package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	etagRequestHeader = "X-Firebase-ETag"
	ifMatchHeader     = "if-match"
)

// ErrUnauthorized is returned when the remote store rejects the credential.
var ErrUnauthorized = errors.New("document store rejected credentials")

// RESTStore talks to a realtime-database style REST endpoint where every
// path is addressable as {base}/{path}.json and the bearer credential is
// passed as the auth query parameter.
type RESTStore struct {
	base       string
	client     *http.Client
	credential string
}

// RESTOption configures a RESTStore.
type RESTOption func(*RESTStore)

// WithCredential sets the database secret or service token sent when the
// request context carries no per-user store token.
func WithCredential(credential string) RESTOption {
	return func(s *RESTStore) { s.credential = credential }
}

// NewRESTStore builds a client for baseURL. A nil client gets a default
// with a conservative timeout.
func NewRESTStore(baseURL string, client *http.Client, opts ...RESTOption) (*RESTStore, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid rest store url %q", baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	s := &RESTStore{base: u.String(), client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RESTStore) Get(ctx context.Context, path string) (Document, error) {
	data, etag, err := s.fetch(ctx, path)
	if err != nil {
		return Document{}, err
	}
	if isNull(data) {
		return Document{}, ErrNotFound
	}
	return Document{Path: path, Data: data, Version: etag}, nil
}

func (s *RESTStore) Put(ctx context.Context, path string, value any) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}
	body, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return s.write(ctx, path, body, "")
}

// Patch reads the node, merges fields and writes it back guarded by the
// ETag it read, so concurrent writers surface as ErrVersionConflict.
func (s *RESTStore) Patch(ctx context.Context, path string, fields map[string]any, ifVersion string) (string, error) {
	current, etag, err := s.fetch(ctx, path)
	if err != nil {
		return "", err
	}
	if isNull(current) {
		return "", ErrNotFound
	}
	if ifVersion != "" && ifVersion != etag {
		return "", ErrVersionConflict
	}
	merged, err := mergeFields(current, fields)
	if err != nil {
		return "", err
	}
	return s.write(ctx, path, merged, etag)
}

func (s *RESTStore) Children(ctx context.Context, path string) ([]Document, error) {
	data, _, err := s.fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	out := []Document{}
	if isNull(data) {
		return out, nil
	}
	var children map[string]json.RawMessage
	if err := json.Unmarshal(data, &children); err != nil {
		return nil, fmt.Errorf("decode children of %s: %w", path, err)
	}
	for key, raw := range children {
		out = append(out, Document{Path: path + "/" + key, Data: raw})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *RESTStore) fetch(ctx context.Context, path string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint(ctx, path), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set(etagRequestHeader, "true")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
	}
	if err := statusError(resp.StatusCode, body); err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("ETag"), nil
}

func (s *RESTStore) write(ctx context.Context, path string, body []byte, ifMatch string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.endpoint(ctx, path), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(etagRequestHeader, "true")
	if ifMatch != "" {
		req.Header.Set(ifMatchHeader, ifMatch)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", transportError(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if err := statusError(resp.StatusCode, respBody); err != nil {
		return "", err
	}
	return resp.Header.Get("ETag"), nil
}

func (s *RESTStore) endpoint(ctx context.Context, path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	u := s.base + "/" + strings.Join(segments, "/") + ".json"
	token := AuthToken(ctx)
	if token == "" {
		token = s.credential
	}
	if token != "" {
		u += "?auth=" + url.QueryEscape(token)
	}
	return u
}

func statusError(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusPreconditionFailed:
		return ErrVersionConflict
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, code)
	default:
		return fmt.Errorf("document store: status %d: %s", code, strings.TrimSpace(string(body)))
	}
}

func transportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func isNull(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
