package report

import (
	"context"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/metrics"
	"github.com/alanyoungcy/fundingbot/internal/notify"
	"github.com/alanyoungcy/fundingbot/internal/strategy"
)

// ChannelReports is the pub/sub channel each summary is published on.
const ChannelReports = "reports"

// maxArchiveBuffer caps summaries held back while uploads keep failing.
const maxArchiveBuffer = 1000

// StatusSource reports the running strategy's status.
type StatusSource interface {
	Status(ctx context.Context) strategy.Status
}

// Archiver uploads a batch of records to cold storage.
type Archiver interface {
	Archive(ctx context.Context, kind, symbol string, at time.Time, records []any) (string, error)
}

// Reporter builds a Summary on a timer and hands it to every configured
// output. Only the log output is mandatory.
type Reporter struct {
	src      Source
	interval time.Duration
	logger   *slog.Logger

	status       StatusSource
	metrics      *metrics.Metrics
	notifier     *notify.Notifier
	cache        domain.ReportCache
	bus          domain.SignalBus
	archiver     Archiver
	archiveEvery int

	mu      sync.Mutex
	latest  *Summary
	pending []any
}

// NewReporter creates a Reporter that summarises src every interval.
func NewReporter(src Source, interval time.Duration, logger *slog.Logger) *Reporter {
	return &Reporter{
		src:      src,
		interval: interval,
		logger:   logger.With(slog.String("component", "reporter"), slog.String("symbol", src.Symbol())),
	}
}

// WithStatus includes the strategy status in each summary.
func (r *Reporter) WithStatus(s StatusSource) *Reporter {
	r.status = s
	return r
}

// WithMetrics exports borrow gauges on every report.
func (r *Reporter) WithMetrics(m *metrics.Metrics) *Reporter {
	r.metrics = m
	return r
}

// WithNotifier sends each summary to operators.
func (r *Reporter) WithNotifier(n *notify.Notifier) *Reporter {
	r.notifier = n
	return r
}

// WithCache keeps the latest summary in the shared cache and publishes it.
func (r *Reporter) WithCache(c domain.ReportCache, bus domain.SignalBus) *Reporter {
	r.cache = c
	r.bus = bus
	return r
}

// WithArchiver uploads summaries in batches of every.
func (r *Reporter) WithArchiver(a Archiver, every int) *Reporter {
	if every < 1 {
		every = 1
	}
	r.archiver = a
	r.archiveEvery = every
	return r
}

// Latest returns the most recent summary, if any.
func (r *Reporter) Latest() (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return Summary{}, false
	}
	return *r.latest, true
}

// Run reports on every tick until ctx is cancelled. Pending archive
// records are flushed on the way out.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.flush(context.WithoutCancel(ctx), time.Now())
			r.logger.Info("reporter stopped")
			return ctx.Err()
		case now := <-ticker.C:
			r.Report(ctx, now)
		}
	}
}

// Report builds one summary and sends it to every output. Output failures
// are logged and do not stop later outputs.
func (r *Reporter) Report(ctx context.Context, now time.Time) Summary {
	var status *strategy.Status
	if r.status != nil {
		st := r.status.Status(ctx)
		status = &st
	}
	s := Build(r.src, status, now)

	r.mu.Lock()
	r.latest = &s
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "funding report",
		slog.Int("borrows", s.Borrows),
		slog.Float64("total", s.Total),
		slog.Float64("net_using", s.NetUsing),
		slog.Float64("net_unused", s.NetUnused),
		slog.Float64("weighted_apr", s.WeightedAPR),
		slog.Float64("best_offer_apr", s.BestOfferAPR),
		slog.Int("open_orders", s.OpenOrders),
	)
	r.logger.DebugContext(ctx, s.Text())

	if r.metrics != nil {
		r.metrics.SetBorrowState(domain.Totals{NetUsing: s.NetUsing, NetUnused: s.NetUnused}, s.WeightedRate, s.BestOfferRate)
	}

	if r.notifier.Enabled(notify.EventReport) {
		if err := r.notifier.Notify(ctx, notify.EventReport, s.Title(), s.Text()); err != nil {
			r.logger.WarnContext(ctx, "notify report failed", slog.String("error", err.Error()))
		}
	}

	if r.cache != nil || r.bus != nil {
		payload, err := json.Marshal(s)
		if err != nil {
			r.logger.WarnContext(ctx, "marshal report failed", slog.String("error", err.Error()))
		} else {
			r.share(ctx, payload)
		}
	}

	if r.archiver != nil {
		r.mu.Lock()
		r.pending = append(r.pending, s)
		due := len(r.pending) >= r.archiveEvery
		r.mu.Unlock()
		if due {
			r.flush(ctx, now)
		}
	}
	return s
}

func (r *Reporter) share(ctx context.Context, payload []byte) {
	if r.cache != nil {
		if err := r.cache.SetLatest(ctx, r.src.Symbol(), payload, 3*r.interval); err != nil {
			r.logger.WarnContext(ctx, "cache report failed", slog.String("error", err.Error()))
		}
	}
	if r.bus != nil {
		if err := r.bus.Publish(ctx, ChannelReports, payload); err != nil {
			r.logger.WarnContext(ctx, "publish report failed", slog.String("error", err.Error()))
		}
	}
}

// flush archives pending summaries. On failure they are kept for the next
// attempt, dropping the oldest past maxArchiveBuffer.
func (r *Reporter) flush(ctx context.Context, now time.Time) {
	if r.archiver == nil {
		return
	}
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	path, err := r.archiver.Archive(ctx, ChannelReports, r.src.Symbol(), now, batch)
	if err != nil {
		r.logger.WarnContext(ctx, "archive reports failed", slog.Int("count", len(batch)), slog.String("error", err.Error()))
		r.mu.Lock()
		r.pending = append(batch, r.pending...)
		if over := len(r.pending) - maxArchiveBuffer; over > 0 {
			r.pending = r.pending[over:]
		}
		r.mu.Unlock()
		return
	}
	r.logger.InfoContext(ctx, "reports archived", slog.Int("count", len(batch)), slog.String("path", path))
}
