package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fitment-triage/internal/disposition"
	"github.com/sells-group/fitment-triage/internal/metrics"
	"github.com/sells-group/fitment-triage/internal/model"
)

// Mailbox is the mail collaborator the runner polls and the dispositioner
// forwards through.
type Mailbox interface {
	FetchUnread(ctx context.Context, account string) ([]model.Email, error)
	disposition.Mailer
}

// Processor triages one email.
type Processor interface {
	Process(ctx context.Context, account string, email model.Email) Outcome
}

// RunnerConfig controls polling and batching.
type RunnerConfig struct {
	Accounts     []string
	BatchSize    int
	BatchDelay   time.Duration
	PollInterval time.Duration
}

// PollSummary counts what one poll did.
type PollSummary struct {
	Accounts  int
	Fetched   int
	Processed int
	Forwarded int
	Failed    int
}

// Runner polls every account and processes unread mail in bounded batches.
type Runner struct {
	mailbox Mailbox
	proc    Processor
	cfg     RunnerConfig
	metrics *metrics.Metrics
}

// NewRunner builds a Runner. A batch size below one is treated as one.
func NewRunner(mailbox Mailbox, proc Processor, cfg RunnerConfig, m *metrics.Metrics) *Runner {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Runner{mailbox: mailbox, proc: proc, cfg: cfg, metrics: m}
}

// Poll makes one pass over every configured account. A fetch failure skips
// that account. It returns early only when ctx is cancelled.
func (r *Runner) Poll(ctx context.Context) (PollSummary, error) {
	var sum PollSummary
	for _, account := range r.cfg.Accounts {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		log := zap.L().With(zap.String("account", account))

		emails, err := r.mailbox.FetchUnread(ctx, account)
		if err != nil {
			log.Error("pipeline: fetch unread failed, skipping account", zap.Error(err))
			if r.metrics != nil {
				r.metrics.PollError(account)
			}
			continue
		}
		sum.Accounts++
		sum.Fetched += len(emails)
		log.Info("pipeline: fetched unread emails", zap.Int("count", len(emails)))

		if err := r.processAll(ctx, account, emails, &sum); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func (r *Runner) processAll(ctx context.Context, account string, emails []model.Email, sum *PollSummary) error {
	for start := 0; start < len(emails); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(emails))
		batch := emails[start:end]

		outcomes := make([]Outcome, len(batch))
		var g errgroup.Group
		g.SetLimit(r.cfg.BatchSize)
		for i, email := range batch {
			g.Go(func() error {
				outcomes[i] = r.proc.Process(ctx, account, email)
				return nil
			})
		}
		_ = g.Wait()

		for _, o := range outcomes {
			sum.Processed++
			if o.Decision.Forwarded {
				sum.Forwarded++
			}
			if o.Error != "" {
				sum.Failed++
			}
		}

		if end < len(emails) {
			if err := sleep(ctx, r.cfg.BatchDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// Start polls every PollInterval, less the time the last poll took, until
// ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	zap.L().Info("pipeline: starting poll loop",
		zap.Strings("accounts", r.cfg.Accounts),
		zap.Duration("interval", r.cfg.PollInterval),
	)
	for {
		began := time.Now()
		sum, err := r.Poll(ctx)
		if err != nil {
			zap.L().Info("pipeline: poll loop stopped", zap.Error(err))
			return nil
		}
		zap.L().Info("pipeline: poll complete",
			zap.Int("fetched", sum.Fetched),
			zap.Int("processed", sum.Processed),
			zap.Int("forwarded", sum.Forwarded),
			zap.Int("failed", sum.Failed),
			zap.Duration("elapsed", time.Since(began)),
		)

		wait := r.cfg.PollInterval - time.Since(began)
		if err := sleep(ctx, max(wait, 0)); err != nil {
			zap.L().Info("pipeline: poll loop stopped")
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
