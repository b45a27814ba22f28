// Package mailbox adapts the Graph client to the triage pipeline.
package mailbox

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fitment-triage/internal/model"
	"github.com/sells-group/fitment-triage/internal/resilience"
	"github.com/sells-group/fitment-triage/pkg/graph"
)

// Graph fetches, forwards and marks mail through Microsoft Graph.
type Graph struct {
	client   graph.Client
	breaker  *resilience.CircuitBreaker
	markRead resilience.Policy
}

// NewGraph wraps client. markReadAttempts bounds the mark-read retries,
// which back off exponentially from one second.
func NewGraph(client graph.Client, breaker *resilience.CircuitBreaker, markReadAttempts int) *Graph {
	return &Graph{
		client:  client,
		breaker: breaker,
		markRead: resilience.Policy{
			Attempts:  markReadAttempts,
			Retryable: func(err error) bool { return !errors.Is(err, resilience.ErrCircuitOpen) },
			OnRetry:   resilience.LogRetry("graph", "mark_read"),
		},
	}
}

// classify marks retryable Graph responses as transient so the breaker
// only counts outages.
func classify(err error) error {
	if code := graph.StatusCode(err); resilience.RetryableStatus(code) {
		return resilience.Transient(err, code)
	}
	return err
}

func (g *Graph) call(ctx context.Context, fn func(ctx context.Context) error) error {
	wrapped := func(ctx context.Context) (struct{}, error) {
		return struct{}{}, classify(fn(ctx))
	}
	if g.breaker == nil {
		_, err := wrapped(ctx)
		return err
	}
	_, err := resilience.Call(ctx, g.breaker, wrapped)
	return err
}

// FetchUnread returns the account's unread messages with file attachments
// loaded. A message whose attachments cannot be fetched is skipped and
// stays unread for the next poll.
func (g *Graph) FetchUnread(ctx context.Context, account string) ([]model.Email, error) {
	var msgs []graph.Message
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		msgs, err = g.client.ListUnread(ctx, account)
		return err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "mailbox: fetch unread for %s", account)
	}

	out := make([]model.Email, 0, len(msgs))
	for _, m := range msgs {
		email := toEmail(account, m)
		if m.HasAttachments {
			var atts []graph.Attachment
			err := g.call(ctx, func(ctx context.Context) error {
				var err error
				atts, err = g.client.Attachments(ctx, account, m.ID)
				return err
			})
			if err != nil {
				zap.L().Warn("mailbox: skipping message, attachments unavailable",
					zap.String("account", account), zap.String("message_id", m.ID), zap.Error(err))
				continue
			}
			email = email.WithAttachments(toAttachments(atts))
		}
		out = append(out, email)
	}
	return out, nil
}

// Forward implements disposition.Mailer.
func (g *Graph) Forward(ctx context.Context, account string, req model.ForwardRequest) error {
	err := g.call(ctx, func(ctx context.Context) error {
		return g.client.Forward(ctx, account, req.MessageID, graph.ForwardOptions{
			To:      req.ForwardTo,
			Cc:      req.Cc,
			ReplyTo: req.ReplyTo,
			Comment: req.Comment,
		})
	})
	return eris.Wrapf(err, "mailbox: forward %s", req.MessageID)
}

// MarkRead implements disposition.Mailer with exponential backoff retries.
func (g *Graph) MarkRead(ctx context.Context, account, messageID string) error {
	err := resilience.RetryErr(ctx, g.markRead, func(ctx context.Context) error {
		return g.call(ctx, func(ctx context.Context) error {
			return g.client.MarkRead(ctx, account, messageID)
		})
	})
	return eris.Wrapf(err, "mailbox: mark read %s", messageID)
}

func toEmail(account string, m graph.Message) model.Email {
	return model.Email{
		ID:                m.ID,
		InternetMessageID: m.InternetMessageID,
		Account:           account,
		From:              m.From.EmailAddress.Address,
		To:                joinAddresses(m.ToRecipients),
		Cc:                joinAddresses(m.CcRecipients),
		Subject:           m.Subject,
		ReceivedAt:        m.ReceivedDateTime,
		Body:              graph.BodyText(m.Body),
		HasAttachments:    m.HasAttachments,
	}
}

func toAttachments(atts []graph.Attachment) []model.Attachment {
	out := make([]model.Attachment, 0, len(atts))
	for _, a := range atts {
		if !a.IsFile() {
			continue
		}
		out = append(out, model.Attachment{Name: a.Name, MimeType: a.ContentType, Content: a.ContentBytes})
	}
	return out
}

func joinAddresses(rs []graph.Recipient) string {
	addrs := make([]string, 0, len(rs))
	for _, r := range rs {
		if r.EmailAddress.Address != "" {
			addrs = append(addrs, r.EmailAddress.Address)
		}
	}
	return strings.Join(addrs, ", ")
}
