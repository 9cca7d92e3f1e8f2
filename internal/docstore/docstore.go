// Package docstore is a path-addressed JSON document store. Paths are
// slash-separated (users/{uid}/wallets/{wid}); every document may have
// children one segment below it.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrNotFound is returned when no document lives at the path.
	ErrNotFound = errors.New("document not found")
	// ErrVersionConflict is returned by conditional writes when the stored
	// version no longer matches the expected one.
	ErrVersionConflict = errors.New("document version conflict")
	// ErrUnavailable marks transport or backend failures worth retrying.
	ErrUnavailable = errors.New("document store unavailable")
	// ErrInvalidPath rejects empty or malformed path segments.
	ErrInvalidPath = errors.New("invalid document path")
)

// reservedKeyChars cannot appear in a raw path segment.
const reservedKeyChars = "%./#$[]"

// Document is one stored node. Version is an opaque token usable with
// conditional writes; it is empty when the backend cannot provide one.
type Document struct {
	Path    string
	Data    json.RawMessage
	Version string
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", d.Path, err)
	}
	return nil
}

// Key returns the last path segment.
func (d Document) Key() string {
	if i := strings.LastIndexByte(d.Path, '/'); i >= 0 {
		return d.Path[i+1:]
	}
	return d.Path
}

// Store is the contract every backend implements. Each call is a single
// request; there is no multi-path transaction.
type Store interface {
	Get(ctx context.Context, path string) (Document, error)
	// Put replaces the document body and returns its new version.
	Put(ctx context.Context, path string, value any) (string, error)
	// Patch merges fields into an existing document. When ifVersion is not
	// empty the write only applies if the stored version still matches.
	Patch(ctx context.Context, path string, fields map[string]any, ifVersion string) (string, error)
	// Children lists the direct children of path ordered by path.
	Children(ctx context.Context, path string) ([]Document, error)
}

// Join builds a path from raw segments, rejecting empty or reserved ones.
// Free-form labels must go through EscapeKey first.
func Join(segments ...string) (string, error) {
	if len(segments) == 0 {
		return "", ErrInvalidPath
	}
	for _, s := range segments {
		if err := validateSegment(s); err != nil {
			return "", err
		}
	}
	return strings.Join(segments, "/"), nil
}

// Child extends a path built by Join with further raw segments.
func Child(base string, segments ...string) (string, error) {
	if base == "" || len(segments) == 0 {
		return "", ErrInvalidPath
	}
	for _, part := range strings.Split(base, "/") {
		if err := validateSegment(part); err != nil {
			return "", err
		}
	}
	for _, s := range segments {
		if err := validateSegment(s); err != nil {
			return "", err
		}
	}
	return base + "/" + strings.Join(segments, "/"), nil
}

// EscapeKey percent-encodes characters that are not allowed in a segment.
func EscapeKey(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(reservedKeyChars, c) >= 0 || c < 0x20 || c == 0x7f {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// UnescapeKey reverses EscapeKey. Invalid escapes are returned unchanged.
func UnescapeKey(s string) string {
	v, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return v
}

func validateSegment(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: empty segment", ErrInvalidPath)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' {
			continue
		}
		if strings.IndexByte(reservedKeyChars, c) >= 0 || c < 0x20 || c == 0x7f {
			return fmt.Errorf("%w: segment %q", ErrInvalidPath, s)
		}
	}
	return nil
}

func validatePath(path string) error {
	if path == "" {
		return ErrInvalidPath
	}
	for _, s := range strings.Split(path, "/") {
		if err := validateSegment(s); err != nil {
			return err
		}
	}
	return nil
}

func parentOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return ""
}

type authTokenKey struct{}

// WithAuthToken attaches a bearer credential that backends forward with
// every call made under ctx.
func WithAuthToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, authTokenKey{}, token)
}

// AuthToken returns the credential attached with WithAuthToken.
func AuthToken(ctx context.Context) string {
	token, _ := ctx.Value(authTokenKey{}).(string)
	return token
}

// IsUnavailable reports whether err is a transient backend failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func mergeFields(data []byte, fields map[string]any) ([]byte, error) {
	body := map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("patch non-object document: %w", err)
		}
	}
	for k, v := range fields {
		if v == nil {
			delete(body, k)
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}
		body[k] = raw
	}
	return json.Marshal(body)
}
