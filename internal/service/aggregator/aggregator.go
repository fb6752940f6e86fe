package aggregator

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"time"

	"github.com/sandevgo/contextd/internal/core"
)

type Options struct {
	// MaxContextLength bounds the whole artifact, footer included, in bytes.
	MaxContextLength  int
	MinRelevanceScore float64
	// MaxConversations keeps only the most recently updated records. Zero
	// keeps all of them.
	MaxConversations int
}

type Aggregator struct {
	opts Options
}

func New(opts Options) *Aggregator {
	return &Aggregator{opts: opts}
}

// Scope keeps the MaxConversations most recently updated records that pass
// the relevance threshold.
func (a *Aggregator) Scope(records []core.ContextRecord) []core.ContextRecord {
	recent := slices.Clone(records)
	slices.SortStableFunc(recent, func(x, y core.ContextRecord) int {
		return cmp.Or(y.UpdatedAt.Compare(x.UpdatedAt), strings.Compare(x.ConversationID, y.ConversationID))
	})
	if a.opts.MaxConversations > 0 && len(recent) > a.opts.MaxConversations {
		recent = recent[:a.opts.MaxConversations]
	}

	out := recent[:0]
	for _, r := range recent {
		if r.RelevanceScore >= a.opts.MinRelevanceScore {
			out = append(out, r)
		}
	}
	return out
}

// Rank orders records by relevance, then recency, then id.
func Rank(records []core.ContextRecord) {
	slices.SortStableFunc(records, func(x, y core.ContextRecord) int {
		return cmp.Or(
			cmp.Compare(y.RelevanceScore, x.RelevanceScore),
			y.UpdatedAt.Compare(x.UpdatedAt),
			strings.Compare(x.ConversationID, y.ConversationID),
		)
	})
}

// Aggregate renders the ranked records into a digest no longer than
// MaxContextLength. Records are only ever included whole: the first one that
// does not fit ends the digest. The checksum covers everything above the
// footer, so it does not change when only generatedAt does.
func (a *Aggregator) Aggregate(records []core.ContextRecord, generatedAt time.Time) core.Digest {
	ranked := a.Scope(records)
	Rank(ranked)

	d := core.Digest{
		GeneratedAt:             generatedAt.UTC(),
		IncludedConversationIDs: []string{},
	}

	footerLen := len(renderFooter(generatedAt, strings.Repeat("0", sha256.Size*2)))
	budget := a.opts.MaxContextLength - len(title) - footerLen
	if budget < 0 {
		d.Omitted = len(ranked)
		d.Checksum = checksum(nil)
		return d
	}

	body := make([]byte, 0, min(a.opts.MaxContextLength, 64<<10))
	body = append(body, title...)
	used := 0
	for i, r := range ranked {
		block := renderRecord(r)
		if used+len(block) > budget {
			d.Omitted = len(ranked) - i
			break
		}
		body = append(body, block...)
		used += len(block)
		d.IncludedConversationIDs = append(d.IncludedConversationIDs, r.ConversationID)
	}
	if len(d.IncludedConversationIDs) == 0 {
		note := emptyNote
		if d.Omitted > 0 {
			note = budgetNote(d.Omitted)
		}
		if len(note) <= budget {
			body = append(body, note...)
		}
	}

	d.Checksum = checksum(body)
	body = append(body, renderFooter(generatedAt, d.Checksum)...)
	d.Body = body
	d.TotalBytes = len(body)
	return d
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
