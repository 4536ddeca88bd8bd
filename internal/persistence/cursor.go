// Package persistence contains helpers shared by repository implementations.
package persistence

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"example.com/gamification/internal/domain"
)

// ErrInvalidCursor is returned for page tokens that were not produced by EncodeCursor.
var ErrInvalidCursor = errors.New("invalid cursor")

const (
	cursorVersion = "a1"
	cursorSep     = "~"
)

// EncodeCursor turns the keyset position of the last returned activity into an opaque
// page token. A nil cursor encodes to the empty string.
func EncodeCursor(c *domain.Cursor) string {
	if c == nil {
		return ""
	}
	fields := []string{
		cursorVersion,
		c.ActivityDate.String(),
		c.CreatedAt.UTC().Format(time.RFC3339Nano),
		c.ID,
	}
	return base64.RawURLEncoding.EncodeToString([]byte(strings.Join(fields, cursorSep)))
}

// DecodeCursor reverses EncodeCursor. A blank token means the first page and yields nil.
func DecodeCursor(token string) (*domain.Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64", ErrInvalidCursor)
	}
	fields := strings.Split(string(raw), cursorSep)
	if len(fields) != 4 || fields[0] != cursorVersion {
		return nil, fmt.Errorf("%w: unexpected layout", ErrInvalidCursor)
	}
	if fields[3] == "" {
		return nil, fmt.Errorf("%w: missing activity id", ErrInvalidCursor)
	}
	day, err := domain.ParseDate(fields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCursor, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields[2])
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp", ErrInvalidCursor)
	}
	return &domain.Cursor{ActivityDate: day, CreatedAt: createdAt, ID: fields[3]}, nil
}
