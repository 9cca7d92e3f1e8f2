package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeRealtimeDB serves leaf documents with per-path ETags and assembles
// collection reads from the leaves one level below.
type fakeRealtimeDB struct {
	mu       sync.Mutex
	docs     map[string]json.RawMessage
	versions map[string]int
	tokens   []string
}

func newFakeRealtimeDB() *fakeRealtimeDB {
	return &fakeRealtimeDB{docs: map[string]json.RawMessage{}, versions: map[string]int{}}
}

func (f *fakeRealtimeDB) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tokens = append(f.tokens, r.URL.Query().Get("auth"))
	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".json")

	switch r.Method {
	case http.MethodGet:
		if doc, ok := f.docs[path]; ok {
			w.Header().Set("ETag", strconv.Itoa(f.versions[path]))
			w.Write(doc)
			return
		}
		children := map[string]json.RawMessage{}
		for p, doc := range f.docs {
			rest, ok := strings.CutPrefix(p, path+"/")
			if ok && !strings.Contains(rest, "/") {
				children[rest] = doc
			}
		}
		if len(children) == 0 {
			w.Write([]byte("null"))
			return
		}
		json.NewEncoder(w).Encode(children)
	case http.MethodPut:
		if match := r.Header.Get(ifMatchHeader); match != "" && match != strconv.Itoa(f.versions[path]) {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.docs[path] = body
		f.versions[path]++
		w.Header().Set("ETag", strconv.Itoa(f.versions[path]))
		w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestRESTStoreContract(t *testing.T) {
	fake := newFakeRealtimeDB()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s, err := NewRESTStore(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new rest store: %v", err)
	}
	runStoreContract(t, s)
}

func TestRESTStoreForwardsAuthToken(t *testing.T) {
	fake := newFakeRealtimeDB()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s, err := NewRESTStore(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new rest store: %v", err)
	}
	ctx := WithAuthToken(context.Background(), "id-token")
	if _, err := s.Put(ctx, "users/u1/wallets/w1", record{Name: "cash"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.tokens) == 0 || fake.tokens[len(fake.tokens)-1] != "id-token" {
		t.Fatalf("expected auth token to be forwarded, got %v", fake.tokens)
	}
}

func TestRESTStoreMapsStatusCodes(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	s, err := NewRESTStore(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new rest store: %v", err)
	}
	if _, err := s.Get(context.Background(), "users/u1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}

	status = http.StatusUnauthorized
	if _, err := s.Get(context.Background(), "users/u1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestNewRESTStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRESTStore("not a url", nil); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestRESTStoreFallsBackToServiceCredential(t *testing.T) {
	fake := newFakeRealtimeDB()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s, err := NewRESTStore(srv.URL, srv.Client(), WithCredential("db-secret"))
	if err != nil {
		t.Fatalf("new rest store: %v", err)
	}
	if _, err := s.Put(context.Background(), "users/u1/wallets/w1", record{Name: "cash"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Get(WithAuthToken(context.Background(), "id-token"), "users/u1/wallets/w1"); err != nil {
		t.Fatalf("get: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.tokens) != 2 || fake.tokens[0] != "db-secret" || fake.tokens[1] != "id-token" {
		t.Fatalf("unexpected credentials %v", fake.tokens)
	}
}
