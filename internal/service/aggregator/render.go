package aggregator

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sandevgo/contextd/internal/core"
)

const (
	title        = "# Conversation Context\n\n"
	emptyNote    = "_No conversations passed the relevance threshold._\n\n"
	footerPrefix = "---\nGenerated: "
	checksumTag  = "sha256:"
)

func budgetNote(omitted int) string {
	if omitted == 1 {
		return "_1 conversation did not fit the size budget._\n\n"
	}
	return fmt.Sprintf("_%d conversations did not fit the size budget._\n\n", omitted)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func renderRecord(r core.ContextRecord) []byte {
	var b bytes.Buffer

	heading := oneLine(r.Title)
	if heading == "" {
		heading = "Untitled conversation"
	}
	fmt.Fprintf(&b, "## %s (`%s`)\n\n", heading, oneLine(r.ConversationID))
	fmt.Fprintf(&b, "_Relevance: %s", strconv.FormatFloat(r.RelevanceScore, 'f', 2, 64))
	if !r.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, " | Updated: %s", r.UpdatedAt.UTC().Format(time.RFC3339))
	}
	b.WriteString("_\n\n")

	if name := r.ProjectInfo["name"]; name != "" {
		fmt.Fprintf(&b, "**Project:** %s", oneLine(name))
		if path := r.ProjectInfo["path"]; path != "" {
			fmt.Fprintf(&b, " (%s)", oneLine(path))
		}
		b.WriteString("\n")
	}
	if tech := r.ProjectInfo["technologies"]; tech != "" {
		fmt.Fprintf(&b, "**Technologies:** %s\n", oneLine(tech))
	}

	fmt.Fprintf(&b, "**Summary:** %s\n\n", oneLine(r.Summary))

	section := func(name string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "**%s:**\n", name)
		for _, item := range items {
			fmt.Fprintf(&b, "- %s\n", oneLine(item))
		}
		b.WriteString("\n")
	}
	section("Key decisions", r.KeyDecisions)
	section("Technical details", r.TechnicalDetails)
	section("Next steps", r.NextSteps)

	return b.Bytes()
}

func renderFooter(generatedAt time.Time, checksum string) string {
	return footerPrefix + generatedAt.UTC().Format(time.RFC3339) + "\nChecksum: " + checksumTag + checksum + "\n"
}
