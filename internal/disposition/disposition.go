// Package disposition decides where a triaged email goes and performs the
// forward and mark-read side effects.
package disposition

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/fitment-triage/internal/model"
)

// Mailer is the mail side effect surface.
type Mailer interface {
	Forward(ctx context.Context, account string, req model.ForwardRequest) error
	MarkRead(ctx context.Context, account, messageID string) error
}

// ContactResolver finds the forward-to address for a triaged email.
type ContactResolver interface {
	Resolve(ctx context.Context, email model.Email, rec *model.CompiledRecord, res model.ReconciliationResult) (string, bool)
}

// RouteResolver routes by tracker company.
type RouteResolver struct {
	routes map[string]string
}

// NewRouteResolver builds a resolver from tracker company to address.
// Keys are matched case-insensitively.
func NewRouteResolver(routes map[string]string) *RouteResolver {
	r := &RouteResolver{routes: make(map[string]string, len(routes))}
	for k, v := range routes {
		if v = strings.TrimSpace(v); v != "" {
			r.routes[strings.ToLower(strings.TrimSpace(k))] = v
		}
	}
	return r
}

// Resolve implements ContactResolver.
func (r *RouteResolver) Resolve(_ context.Context, _ model.Email, rec *model.CompiledRecord, _ model.ReconciliationResult) (string, bool) {
	tc := rec.Get(model.FieldTrackerCompany)
	if !tc.IsFound() {
		return "", false
	}
	addr, ok := r.routes[tc.Value]
	return addr, ok
}

// Dispositioner forwards triaged email and marks it read on success.
type Dispositioner struct {
	mailer   Mailer
	resolver ContactResolver
	fallback string
}

// New returns a Dispositioner. A nil resolver always uses the fallback.
func New(mailer Mailer, resolver ContactResolver, fallback string) *Dispositioner {
	return &Dispositioner{mailer: mailer, resolver: resolver, fallback: fallback}
}

// Disposition forwards the email and, only if that succeeded, marks it
// read. A failed forward leaves the message unread so the next poll picks
// it up again.
func (d *Dispositioner) Disposition(ctx context.Context, email model.Email, rec *model.CompiledRecord, res model.ReconciliationResult) model.ForwardDecision {
	log := zap.L().With(zap.String("message_id", email.ID))

	dec := model.ForwardDecision{ForwardTo: d.fallback, ReplyTo: email.From, Cc: splitAddresses(email.Cc)}
	if d.resolver != nil {
		if addr, ok := d.resolver.Resolve(ctx, email, rec, res); ok && addr != "" {
			dec.ForwardTo = addr
			dec.Resolved = true
		}
	}

	err := d.mailer.Forward(ctx, email.Account, model.ForwardRequest{
		MessageID: email.ID,
		ReplyTo:   dec.ReplyTo,
		ForwardTo: dec.ForwardTo,
		Cc:        dec.Cc,
		Comment:   Summary(rec, res),
	})
	if err != nil {
		dec.Error = err.Error()
		log.Warn("forward failed, leaving unread", zap.String("forward_to", dec.ForwardTo), zap.Error(err))
		return dec
	}
	dec.Forwarded = true

	if err := d.mailer.MarkRead(ctx, email.Account, email.ID); err != nil {
		dec.Error = err.Error()
		log.Warn("mark read failed after forward", zap.Error(err))
		return dec
	}
	dec.MarkedRead = true
	return dec
}

// Summary renders the forward comment. It is deterministic for a given
// record and result.
func Summary(rec *model.CompiledRecord, res model.ReconciliationResult) string {
	var b strings.Builder
	b.WriteString("AI Forwarded message\n\n")
	for _, name := range model.AllFields {
		fmt.Fprintf(&b, "%s: %s\n", name, rec.Get(name).String())
	}

	b.WriteString("\nReconciliation: ")
	b.WriteString(string(res.Status))
	if res.Matched() {
		v := res.Vehicle
		fmt.Fprintf(&b, " by %s (policy %s, item %d)", res.Method, res.PolicyNumber, v.SequenceNumber)
		if res.Method == model.MatchTextSimilarity {
			fmt.Fprintf(&b, " score %.2f", res.Score)
		}
		fmt.Fprintf(&b, "\nRegistry vehicle: %s %s %s, reg %s, VIN %s, cover %s",
			v.Year, v.Make, v.Model, v.RegistrationNumber, v.VINNumber, v.CoverType)
		if res.Ambiguous {
			b.WriteString("\nSeveral registry vehicles matched; please review.")
		}
	}
	if res.Error != "" {
		fmt.Fprintf(&b, "\nRegistry error: %s", res.Error)
	}
	return b.String()
}

func splitAddresses(s string) []string {
	var out []string
	for _, a := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
