package conv

import (
	"regexp"
	"strings"

	"github.com/inbucket/html2text"
	"github.com/microcosm-cc/bluemonday"
)

var (
	markupRe     = regexp.MustCompile(`(?i)<(/?[a-z][a-z0-9]*)(\s[^<>]*)?/?>`)
	stripPolicy  = bluemonday.StrictPolicy()
	htmlEntities = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&#34;", "\"", "&#39;", "'", "&quot;", "\"")
)

// LooksLikeHTML reports whether s contains at least two HTML-ish tags.
func LooksLikeHTML(s string) bool {
	return len(markupRe.FindAllStringIndex(s, 2)) >= 2
}

// PlainText turns message content that arrived as HTML into readable text.
// Anything else is returned unchanged. Callers should bound the input size
// first: parsing is proportional to the input.
func PlainText(s string) string {
	if !LooksLikeHTML(s) {
		return s
	}

	text, err := html2text.FromString(s, html2text.Options{OmitLinks: true})
	if err != nil {
		return htmlEntities.Replace(stripPolicy.Sanitize(s))
	}
	return text
}
