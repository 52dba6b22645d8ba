// Package artifact stores raw evidence bytes and hands out opaque,
// content-addressed references. The reasoning core only ever sees the
// reference.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned for a reference with no stored content.
var ErrNotFound = errors.New("artifact not found")

// ErrInvalidRef is returned for a reference that is not of the form
// "sha256:<hex>".
var ErrInvalidRef = errors.New("invalid artifact reference")

const refPrefix = "sha256:"

// Store persists evidence artifacts.
type Store interface {
	// Put stores content and returns its reference. Storing identical
	// content twice returns the same reference.
	Put(ctx context.Context, content []byte) (string, error)
	// Get returns the content stored under ref.
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Ref returns the content reference for content.
func Ref(content []byte) string {
	sum := sha256.Sum256(content)
	return refPrefix + hex.EncodeToString(sum[:])
}

// digest validates ref and returns its hex digest.
func digest(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, refPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	hexPart := strings.TrimPrefix(ref, refPrefix)
	if len(hexPart) != sha256.Size*2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return hexPart, nil
}
