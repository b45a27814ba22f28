package graph

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	spaceRe = regexp.MustCompile(`[ \t\x{00a0}]+`)
	nlRe    = regexp.MustCompile(`[ \t]*\n[ \t]*`)
	blankRe = regexp.MustCompile(`\n{3,}`)
)

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "li": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "hr": true,
}

// BodyText returns the message body as plain text. HTML bodies are
// tokenized; script and style content is dropped.
func BodyText(b ItemBody) string {
	if !strings.EqualFold(b.ContentType, "html") {
		return strings.TrimSpace(b.Content)
	}
	return HTMLToText(b.Content)
}

// HTMLToText converts an HTML fragment to plain text with block elements
// on their own lines.
func HTMLToText(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var (
		sb   strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapse(sb.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" || tag == "head" {
				skip++
			}
			if blockTags[tag] {
				sb.WriteByte('\n')
			}
			if tag == "td" || tag == "th" {
				sb.WriteByte('\t')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style" || tag == "head") && skip > 0 {
				skip--
			}
			if blockTags[tag] {
				sb.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		}
	}
}

func collapse(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRe.ReplaceAllString(s, " ")
	s = nlRe.ReplaceAllString(s, "\n")
	s = blankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
