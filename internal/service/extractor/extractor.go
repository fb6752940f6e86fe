package extractor

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/sandevgo/contextd/internal/core"
	"github.com/sandevgo/contextd/pkg/conv"
)

// NoSummary is used when a conversation has no user message with text.
const NoSummary = "No user request recorded yet."

type Options struct {
	MaxSummaryLength    int
	MaxDecisions        int
	MaxTechnicalDetails int
	MaxNextSteps        int
	// ScanWindow is how many trailing messages are searched for keywords.
	ScanWindow int
	// ExcerptLength caps every decision, detail and next-step excerpt.
	ExcerptLength int
	// MaxMessageBytes bounds the text taken from a single message before
	// any parsing happens.
	MaxMessageBytes int
	// ScoreSaturation is the weighted hit count that maps to a score of 1.
	ScoreSaturation float64
	Keywords        core.Keywords
	Clock           func() time.Time
}

func DefaultOptions() Options {
	return Options{
		MaxSummaryLength:    200,
		MaxDecisions:        5,
		MaxTechnicalDetails: 5,
		MaxNextSteps:        5,
		ScanWindow:          5,
		ExcerptLength:       160,
		MaxMessageBytes:     16 << 10,
		ScoreSaturation:     10,
		Keywords:            core.DefaultKeywords(),
		Clock:               time.Now,
	}
}

// Extractor turns a conversation snapshot into a ContextRecord. It holds no
// mutable state and may be shared between goroutines.
type Extractor struct {
	opts       Options
	decisions  *matcher
	technical  *matcher
	nextSteps  *matcher
	importance *matcher
}

func New(opts Options) *Extractor {
	def := DefaultOptions()
	if opts.MaxSummaryLength <= 0 {
		opts.MaxSummaryLength = def.MaxSummaryLength
	}
	if opts.ScanWindow <= 0 {
		opts.ScanWindow = def.ScanWindow
	}
	if opts.ExcerptLength <= 0 {
		opts.ExcerptLength = def.ExcerptLength
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = def.MaxMessageBytes
	}
	if opts.ScoreSaturation <= 0 {
		opts.ScoreSaturation = def.ScoreSaturation
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	kw := opts.Keywords.Merge(def.Keywords)

	return &Extractor{
		opts:       opts,
		decisions:  newListMatcher(kw.Decisions),
		technical:  newListMatcher(kw.Technical),
		nextSteps:  newListMatcher(kw.NextSteps),
		importance: newMatcher(kw.Importance),
	}
}

// Extract never fails. Content it cannot read is skipped.
func (e *Extractor) Extract(c core.Conversation) core.ContextRecord {
	rec := core.ContextRecord{
		Summary:          e.summary(c.Messages),
		KeyDecisions:     []string{},
		TechnicalDetails: []string{},
		NextSteps:        []string{},
		ProjectInfo:      map[string]string{},
		Fingerprint:      Fingerprint(c.Messages),
	}

	window := c.Messages
	if len(window) > e.opts.ScanWindow {
		window = window[len(window)-e.opts.ScanWindow:]
	}

	var (
		hits float64
		tech = make(map[string]struct{})
	)
	for _, msg := range window {
		text, ok := e.text(msg)
		if !ok {
			continue
		}
		for _, sentence := range sentences(text) {
			tokens := tokenize(sentence)
			if len(tokens) == 0 {
				continue
			}
			hits += e.importance.weight(tokens)

			excerpt := truncate(sentence, e.opts.ExcerptLength)
			if e.decisions.any(tokens) {
				rec.KeyDecisions = appendCapped(rec.KeyDecisions, excerpt, e.opts.MaxDecisions)
			}
			if e.nextSteps.any(tokens) {
				rec.NextSteps = appendCapped(rec.NextSteps, excerpt, e.opts.MaxNextSteps)
			}

			matched := false
			e.technical.each(tokens, func(p phrase) {
				matched = true
				tech[p.text] = struct{}{}
			})
			if matched {
				rec.TechnicalDetails = appendCapped(rec.TechnicalDetails, excerpt, e.opts.MaxTechnicalDetails)
			}
		}
	}

	rec.RelevanceScore = score(hits, e.opts.ScoreSaturation)
	if len(tech) > 0 {
		names := make([]string, 0, len(tech))
		for name := range tech {
			names = append(names, name)
		}
		slices.Sort(names)
		rec.ProjectInfo["technologies"] = strings.Join(names, ", ")
	}
	rec.GeneratedAt = e.opts.Clock().UTC()

	return rec.ForConversation(c)
}

func (e *Extractor) summary(msgs []core.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != core.RoleUser {
			continue
		}
		text, ok := e.text(msgs[i])
		if !ok {
			continue
		}
		if s := collapse(text); s != "" {
			return truncate(s, e.opts.MaxSummaryLength)
		}
	}
	return truncate(NoSummary, e.opts.MaxSummaryLength)
}

// text returns the bounded, plain-text form of a message's content.
func (e *Extractor) text(msg core.Message) (string, bool) {
	if !msg.Content.IsText() {
		return "", false
	}
	raw := clip(msg.Content.Text, e.opts.MaxMessageBytes)
	if strings.TrimSpace(raw) == "" {
		return "", false
	}
	return conv.PlainText(raw), true
}

func appendCapped(list []string, item string, max int) []string {
	if len(list) >= max || slices.Contains(list, item) {
		return list
	}
	return append(list, item)
}

func score(hits, saturation float64) float64 {
	s := hits / saturation
	switch {
	case s <= 0 || math.IsNaN(s):
		return 0
	case s >= 1:
		return 1
	}
	return s
}

// Fingerprint hashes the ordered (role, content) pairs of msgs. Timestamps
// and metadata do not take part.
func Fingerprint(msgs []core.Message) string {
	h := sha256.New()
	for _, m := range msgs {
		writeField(h, []byte(m.Role))
		h.Write([]byte{byte(m.Content.Kind)})
		switch m.Content.Kind {
		case core.ContentText, core.ContentParts:
			writeField(h, []byte(m.Content.Text))
		case core.ContentUnknown:
			writeField(h, m.Content.Raw)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}
