// Package graph provides a client for the Microsoft Graph mail API.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ScanPlaceholderName is the attachment Exchange shows while Safe
// Attachments is still scanning a message.
const ScanPlaceholderName = "Safe Attachments Scan In Progress"

// ErrScanInProgress is returned by Forward while attachments are still
// being scanned.
var ErrScanInProgress = eris.New("graph: safe attachments scan in progress")

// Client defines the mailbox operations used by the triage service.
type Client interface {
	// ListUnread returns every unread message in the user's mailbox.
	ListUnread(ctx context.Context, user string) ([]Message, error)
	// Attachments returns the file attachments of a message with content.
	Attachments(ctx context.Context, user, messageID string) ([]Attachment, error)
	// Forward creates a forward draft, addresses it and sends it.
	Forward(ctx context.Context, user, messageID string, opts ForwardOptions) error
	// MarkRead sets isRead on a message.
	MarkRead(ctx context.Context, user, messageID string) error
}

// EmailAddress is a Graph emailAddress.
type EmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// Recipient is a Graph recipient.
type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// ItemBody is a message body.
type ItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// Message is the subset of a Graph message the triage service reads.
type Message struct {
	ID                string      `json:"id"`
	InternetMessageID string      `json:"internetMessageId"`
	Subject           string      `json:"subject"`
	From              Recipient   `json:"from"`
	ToRecipients      []Recipient `json:"toRecipients"`
	CcRecipients      []Recipient `json:"ccRecipients"`
	ReceivedDateTime  time.Time   `json:"receivedDateTime"`
	Body              ItemBody    `json:"body"`
	HasAttachments    bool        `json:"hasAttachments"`
	IsRead            bool        `json:"isRead"`
}

// Attachment is a Graph attachment. ContentBytes is only set for file
// attachments.
type Attachment struct {
	ODataType    string `json:"@odata.type"`
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	Size         int    `json:"size"`
	IsInline     bool   `json:"isInline"`
	ContentBytes []byte `json:"contentBytes,omitempty"`
}

// IsFile reports whether the attachment carries file content.
func (a Attachment) IsFile() bool {
	return a.ODataType == "" || a.ODataType == "#microsoft.graph.fileAttachment"
}

// ForwardOptions addresses a forward.
type ForwardOptions struct {
	To      string
	Cc      []string
	ReplyTo string
	Comment string
}

// APIError is a non-2xx Graph response.
type APIError struct {
	StatusCode int
	Op         string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// StatusCode extracts the HTTP status from a Graph error, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Option configures the Graph client.
type Option func(*httpClient)

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithAuthorityURL sets the identity authority (for testing).
func WithAuthorityURL(u string) Option {
	return func(c *httpClient) {
		c.authority = strings.TrimRight(u, "/")
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the authenticated HTTP client entirely.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL   string
	authority string
	timeout   time.Duration
	http      *http.Client
}

// NewClient creates a Graph client authenticated with the client
// credentials grant. Tokens are cached and refreshed by the token source.
func NewClient(tenantID, clientID, clientSecret string, opts ...Option) Client {
	c := &httpClient{
		baseURL:   "https://graph.microsoft.com/v1.0",
		authority: "https://login.microsoftonline.com",
		timeout:   60 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		cc := clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     c.authority + "/" + url.PathEscape(tenantID) + "/oauth2/v2.0/token",
			Scopes:       []string{"https://graph.microsoft.com/.default"},
		}
		base := &http.Client{Timeout: c.timeout}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		c.http = cc.Client(ctx)
		c.http.Timeout = c.timeout
	}
	return c
}

func (c *httpClient) userURL(user string, parts ...string) string {
	u := c.baseURL + "/users/" + url.PathEscape(user) + "/messages"
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

// do sends a request and decodes a JSON response into out when non-nil.
func (c *httpClient) do(ctx context.Context, op, method, reqURL string, body any, want int, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return eris.Wrapf(err, "graph: %s: marshal body", op)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, rdr)
	if err != nil {
		return eris.Wrapf(err, "graph: %s: create request", op)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "graph: %s", op)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrapf(err, "graph: %s: read response", op)
	}
	if resp.StatusCode != want {
		return &APIError{StatusCode: resp.StatusCode, Op: op, Body: string(respBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrapf(err, "graph: %s: unmarshal response", op)
	}
	return nil
}

type messagePage struct {
	Value    []Message `json:"value"`
	NextLink string    `json:"@odata.nextLink"`
}

func (c *httpClient) ListUnread(ctx context.Context, user string) ([]Message, error) {
	q := url.Values{}
	q.Set("$filter", "isRead eq false")
	q.Set("$top", "50")
	next := c.userURL(user) + "?" + q.Encode()

	var out []Message
	for next != "" {
		var page messagePage
		if err := c.do(ctx, "list unread", http.MethodGet, next, nil, http.StatusOK, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Value...)
		next = page.NextLink
	}
	return out, nil
}

type attachmentPage struct {
	Value []Attachment `json:"value"`
}

func (c *httpClient) Attachments(ctx context.Context, user, messageID string) ([]Attachment, error) {
	var page attachmentPage
	if err := c.do(ctx, "list attachments", http.MethodGet, c.userURL(user, messageID, "attachments"), nil, http.StatusOK, &page); err != nil {
		return nil, err
	}
	return page.Value, nil
}

type forwardDraft struct {
	ID string `json:"id"`
}

type forwardPatch struct {
	ToRecipients []Recipient `json:"toRecipients"`
	CcRecipients []Recipient `json:"ccRecipients"`
	ReplyTo      []Recipient `json:"replyTo,omitempty"`
}

func recipients(addrs ...string) []Recipient {
	out := make([]Recipient, 0, len(addrs))
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, Recipient{EmailAddress: EmailAddress{Address: a}})
		}
	}
	return out
}

func (c *httpClient) Forward(ctx context.Context, user, messageID string, opts ForwardOptions) error {
	if opts.To == "" {
		return eris.New("graph: forward: no recipient")
	}

	var msg Message
	if err := c.do(ctx, "get message", http.MethodGet, c.userURL(user, messageID)+"?$select=id,hasAttachments", nil, http.StatusOK, &msg); err != nil {
		return err
	}
	if msg.HasAttachments {
		var page attachmentPage
		if err := c.do(ctx, "check attachments", http.MethodGet, c.userURL(user, messageID, "attachments")+"?$select=name", nil, http.StatusOK, &page); err != nil {
			return err
		}
		if len(page.Value) > 0 && page.Value[0].Name == ScanPlaceholderName {
			return ErrScanInProgress
		}
	}

	var draft forwardDraft
	createBody := map[string]string{"comment": opts.Comment}
	if err := c.do(ctx, "create forward", http.MethodPost, c.userURL(user, messageID, "createForward"), createBody, http.StatusCreated, &draft); err != nil {
		return err
	}
	if draft.ID == "" {
		return eris.New("graph: create forward: empty draft id")
	}

	patch := forwardPatch{
		ToRecipients: recipients(opts.To),
		CcRecipients: recipients(opts.Cc...),
		ReplyTo:      recipients(opts.ReplyTo),
	}
	if err := c.do(ctx, "update forward", http.MethodPatch, c.userURL(user, draft.ID), patch, http.StatusOK, nil); err != nil {
		return err
	}

	return c.do(ctx, "send forward", http.MethodPost, c.userURL(user, draft.ID, "send"), nil, http.StatusAccepted, nil)
}

func (c *httpClient) MarkRead(ctx context.Context, user, messageID string) error {
	return c.do(ctx, "mark read", http.MethodPatch, c.userURL(user, messageID), map[string]bool{"isRead": true}, http.StatusOK, nil)
}
