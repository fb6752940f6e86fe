package core

import (
	"maps"
	"path/filepath"
	"slices"
	"time"
)

// Keywords drives the heuristic extraction. Every phrase is matched on word
// boundaries, case-insensitively.
type Keywords struct {
	Decisions  []string           `yaml:"decisions"`
	Technical  []string           `yaml:"technical"`
	NextSteps  []string           `yaml:"next_steps"`
	Importance map[string]float64 `yaml:"importance"`
}

// ContextRecord is the per-conversation extraction result.
type ContextRecord struct {
	ConversationID   string            `json:"conversation_id"`
	Title            string            `json:"title"`
	Summary          string            `json:"summary"`
	KeyDecisions     []string          `json:"key_decisions"`
	TechnicalDetails []string          `json:"technical_details"`
	NextSteps        []string          `json:"next_steps"`
	ProjectInfo      map[string]string `json:"project_info"`
	RelevanceScore   float64           `json:"relevance_score"`
	Fingerprint      string            `json:"content_fingerprint"`
	UpdatedAt        time.Time         `json:"updated_at"`
	GeneratedAt      time.Time         `json:"generated_at"`
}

func (r ContextRecord) Clone() ContextRecord {
	r.KeyDecisions = slices.Clone(r.KeyDecisions)
	r.TechnicalDetails = slices.Clone(r.TechnicalDetails)
	r.NextSteps = slices.Clone(r.NextSteps)
	r.ProjectInfo = maps.Clone(r.ProjectInfo)
	return r
}

// ForConversation binds a content-derived record to the identity of a
// concrete snapshot. Records are cached by content, so two conversations with
// identical messages share one extraction but not an identity.
func (r ContextRecord) ForConversation(conv Conversation) ContextRecord {
	out := r.Clone()
	out.ConversationID = conv.ID
	out.Title = conv.Title
	out.UpdatedAt = conv.UpdatedAt

	if out.ProjectInfo == nil {
		out.ProjectInfo = make(map[string]string)
	}
	delete(out.ProjectInfo, "path")
	delete(out.ProjectInfo, "name")
	if conv.ProjectPath != "" {
		out.ProjectInfo["path"] = conv.ProjectPath
		out.ProjectInfo["name"] = filepath.Base(filepath.Clean(conv.ProjectPath))
	}
	return out
}

// ApproxSize estimates the in-memory footprint of the record's text.
func (r ContextRecord) ApproxSize() int {
	size := len(r.ConversationID) + len(r.Title) + len(r.Summary) + len(r.Fingerprint)
	for _, lists := range [][]string{r.KeyDecisions, r.TechnicalDetails, r.NextSteps} {
		for _, s := range lists {
			size += len(s)
		}
	}
	for k, v := range r.ProjectInfo {
		size += len(k) + len(v)
	}
	return size
}

// Digest is the rendered, ranked and budget-truncated artifact body.
type Digest struct {
	GeneratedAt             time.Time
	IncludedConversationIDs []string
	Omitted                 int
	Body                    []byte
	TotalBytes              int
	Checksum                string
}
