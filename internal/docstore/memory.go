package docstore

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type memoryDoc struct {
	data    []byte
	version int64
}

// MemoryStore keeps documents in a map. Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]memoryDoc
}

// NewMemory builds an empty in-memory store for tests and local runs.
func NewMemory() *MemoryStore {
	return &MemoryStore{docs: make(map[string]memoryDoc)}
}

func (s *MemoryStore) Get(ctx context.Context, path string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[path]
	if !ok {
		return Document{}, ErrNotFound
	}
	return toDocument(path, doc), nil
}

func (s *MemoryStore) Put(ctx context.Context, path string, value any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validatePath(path); err != nil {
		return "", err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.docs[path].version + 1
	s.docs[path] = memoryDoc{data: data, version: next}
	return strconv.FormatInt(next, 10), nil
}

func (s *MemoryStore) Patch(ctx context.Context, path string, fields map[string]any, ifVersion string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[path]
	if !ok {
		return "", ErrNotFound
	}
	if ifVersion != "" && ifVersion != strconv.FormatInt(doc.version, 10) {
		return "", ErrVersionConflict
	}
	data, err := mergeFields(doc.data, fields)
	if err != nil {
		return "", err
	}
	doc = memoryDoc{data: data, version: doc.version + 1}
	s.docs[path] = doc
	return strconv.FormatInt(doc.version, 10), nil
}

func (s *MemoryStore) Children(ctx context.Context, path string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := path + "/"
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Document{}
	for p, doc := range s.docs {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok || rest == "" || strings.Contains(rest, "/") {
			continue
		}
		out = append(out, toDocument(p, doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func toDocument(path string, doc memoryDoc) Document {
	data := make([]byte, len(doc.data))
	copy(data, doc.data)
	return Document{Path: path, Data: data, Version: strconv.FormatInt(doc.version, 10)}
}
