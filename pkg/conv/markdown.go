package conv

import (
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
)

var (
	extensions = parser.CommonExtensions | parser.NoEmptyLineBeforeBlock
	htmlFlags  = html.CommonFlags | html.HrefTargetBlank
	docPolicy  = bluemonday.UGCPolicy()
)

// MarkdownToHTML renders a digest into a standalone, sanitized HTML page.
func MarkdownToHTML(md []byte, title string) []byte {
	p := parser.NewWithExtensions(extensions)
	renderer := html.NewRenderer(html.RendererOptions{Flags: htmlFlags})
	unsafeHTML := markdown.Render(p.Parse(md), renderer)

	body := docPolicy.SanitizeBytes(unsafeHTML)

	out := make([]byte, 0, len(body)+256)
	out = append(out, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>"...)
	out = append(out, bluemonday.StrictPolicy().Sanitize(title)...)
	out = append(out, "</title>\n</head>\n<body>\n"...)
	out = append(out, body...)
	out = append(out, "</body>\n</html>\n"...)
	return out
}
