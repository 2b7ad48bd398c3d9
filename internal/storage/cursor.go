package storage

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Cursor points after the last row of a page
type Cursor struct {
	CompletedAt time.Time
	JobID       string
}

// DecodeCursor parses an opaque page token. An empty token means the first page.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var completedAt int64
	if _, err := fmt.Sscanf(parts[0], "%d", &completedAt); err != nil {
		return nil, fmt.Errorf("invalid completed_at in cursor: %w", err)
	}

	return &Cursor{
		CompletedAt: time.Unix(0, completedAt).UTC(),
		JobID:       parts[1],
	}, nil
}

// EncodeCursor builds the page token for c
func EncodeCursor(c Cursor) string {
	cs := fmt.Sprintf("%d|%s", c.CompletedAt.UnixNano(), c.JobID)
	return base64.StdEncoding.EncodeToString([]byte(cs))
}

// NextCursor returns the token after the last record
func NextCursor(records []Record) string {
	if len(records) == 0 {
		return ""
	}
	last := records[len(records)-1]
	return EncodeCursor(Cursor{CompletedAt: last.CompletedAt, JobID: last.JobID})
}
