package aggregator

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNoFooter = errors.New("digest footer not found")

// Info describes a published artifact.
type Info struct {
	GeneratedAt  time.Time
	Checksum     string
	ContentBytes int
	TotalBytes   int
	// Valid is false when the content no longer matches its checksum.
	Valid bool
}

// Inspect parses the footer of a rendered digest and verifies its checksum.
func Inspect(body []byte) (Info, error) {
	idx := bytes.LastIndex(body, []byte(footerPrefix))
	if idx < 0 {
		return Info{}, ErrNoFooter
	}
	content, footer := body[:idx], string(body[idx+len(footerPrefix):])

	lines := strings.Split(strings.TrimRight(footer, "\n"), "\n")
	if len(lines) != 2 {
		return Info{}, fmt.Errorf("malformed digest footer: %d line(s)", len(lines))
	}

	generatedAt, err := time.Parse(time.RFC3339, lines[0])
	if err != nil {
		return Info{}, fmt.Errorf("parse generation time: %w", err)
	}

	sum, ok := strings.CutPrefix(lines[1], "Checksum: "+checksumTag)
	if !ok {
		return Info{}, fmt.Errorf("malformed checksum line %q", lines[1])
	}

	return Info{
		GeneratedAt:  generatedAt,
		Checksum:     sum,
		ContentBytes: len(content),
		TotalBytes:   len(body),
		Valid:        checksum(content) == sum,
	}, nil
}
