package model

import (
	"strings"
	"time"
)

// ExtractionResult is the text pulled out of one attachment, or the reason
// it could not be.
type ExtractionResult struct {
	Success        bool     `json:"success"`
	Text           string   `json:"text,omitempty"`
	Pages          []string `json:"pages,omitempty"`
	PageCount      int      `json:"page_count"`
	HasHandwriting bool     `json:"has_handwriting"`
	Error          string   `json:"error,omitempty"`
	Unsupported    bool     `json:"unsupported,omitempty"`
}

// ExtractionOK builds a successful result from per-page text.
func ExtractionOK(pages []string, handwriting bool) ExtractionResult {
	return ExtractionResult{
		Success:        true,
		Text:           strings.Join(pages, "\n\n"),
		Pages:          pages,
		PageCount:      len(pages),
		HasHandwriting: handwriting,
	}
}

// ExtractionFailed builds a failed result.
func ExtractionFailed(reason string) ExtractionResult {
	return ExtractionResult{Error: reason}
}

// ExtractionUnsupported marks an attachment type no extractor handles.
func ExtractionUnsupported(reason string) ExtractionResult {
	return ExtractionResult{Error: reason, Unsupported: true}
}

// Attachment is one email attachment and its extracted text.
type Attachment struct {
	Name       string           `json:"name"`
	MimeType   string           `json:"mime_type"`
	Content    []byte           `json:"-"`
	Extraction ExtractionResult `json:"extraction"`
}

// Email is an unread message as fetched from the mailbox. It is not mutated
// once the pipeline starts working on it.
type Email struct {
	ID                string       `json:"id"`
	InternetMessageID string       `json:"internet_message_id"`
	Account           string       `json:"account"`
	From              string       `json:"from"`
	To                string       `json:"to"`
	Cc                string       `json:"cc"`
	Subject           string       `json:"subject"`
	ReceivedAt        time.Time    `json:"received_at"`
	Body              string       `json:"body"`
	HasAttachments    bool         `json:"has_attachments"`
	Attachments       []Attachment `json:"attachments"`
}

// WithAttachments returns a copy of e carrying the given attachments.
func (e Email) WithAttachments(atts []Attachment) Email {
	out := e
	out.Attachments = append([]Attachment(nil), atts...)
	return out
}

// CanonicalDocument is the single text blob every extraction step reads.
type CanonicalDocument string

// ForwardRequest asks the mailbox to forward a message.
type ForwardRequest struct {
	MessageID string
	ReplyTo   string
	ForwardTo string
	Cc        []string
	Comment   string
}

// ForwardDecision records what the dispositioner decided and did.
type ForwardDecision struct {
	ForwardTo  string   `json:"forward_to"`
	ReplyTo    string   `json:"reply_to"`
	Cc         []string `json:"cc,omitempty"`
	Resolved   bool     `json:"resolved"`
	Forwarded  bool     `json:"forwarded"`
	MarkedRead bool     `json:"marked_read"`
	Error      string   `json:"error,omitempty"`
}
