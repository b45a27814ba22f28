// Package canonical renders an email and its processed attachments as the
// single text document every extraction step reads.
package canonical

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/fitment-triage/internal/model"
)

type document struct {
	MessageID   string       `json:"message_id"`
	Subject     string       `json:"subject"`
	From        string       `json:"from"`
	To          string       `json:"to"`
	Cc          string       `json:"cc"`
	ReceivedAt  string       `json:"received_at"`
	Body        string       `json:"body"`
	Attachments []attachment `json:"attachments"`
}

type attachment struct {
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	PageCount int    `json:"page_count"`
	Text      string `json:"text"`
	Error     string `json:"error"`
}

// Canonicalize builds the canonical document for e. It is pure: the same
// email always yields byte-identical output. Raw attachment bytes are never
// included.
func Canonicalize(e model.Email) model.CanonicalDocument {
	doc := document{
		MessageID:   clean(e.InternetMessageID),
		Subject:     clean(e.Subject),
		From:        clean(e.From),
		To:          clean(e.To),
		Cc:          clean(e.Cc),
		Body:        clean(e.Body),
		Attachments: make([]attachment, 0, len(e.Attachments)),
	}
	if !e.ReceivedAt.IsZero() {
		doc.ReceivedAt = e.ReceivedAt.UTC().Format(time.RFC3339)
	}

	for _, a := range e.Attachments {
		ca := attachment{
			Name:     clean(a.Name),
			MimeType: clean(a.MimeType),
		}
		if a.Extraction.Success {
			ca.Text = clean(a.Extraction.Text)
			ca.PageCount = a.Extraction.PageCount
		} else {
			ca.Error = a.Extraction.Error
			if ca.Error == "" {
				ca.Error = "attachment not processed"
			}
		}
		doc.Attachments = append(doc.Attachments, ca)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a struct of strings and ints cannot fail.
	_ = enc.Encode(doc)
	return model.CanonicalDocument(strings.TrimSuffix(buf.String(), "\n"))
}

// clean normalizes to NFC and folds CRLF and lone CR to LF.
func clean(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return norm.NFC.String(s)
}
