// Package refresh runs the poll, reconcile and publish cycle.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jgoulah/delcoscraper/internal/delco"
	"github.com/jgoulah/delcoscraper/internal/publisher"
	"github.com/jgoulah/delcoscraper/internal/reconcile"
	"github.com/jgoulah/delcoscraper/pkg/models"
)

// API is the part of the vendor client a refresh needs
type API interface {
	Authenticate(ctx context.Context) error
	Snapshot(ctx context.Context) (models.AccountSnapshot, error)
	GetUsagePoints(ctx context.Context, freq delco.Frequency, start, end time.Time) ([]models.UsagePoint, error)
	GetBillingHistory(ctx context.Context, start, end time.Time) ([]delco.Bill, error)
	GetPaymentHistory(ctx context.Context, start, end time.Time) ([]models.Payment, error)
	GetBillPDF(ctx context.Context, bill delco.Bill) ([]byte, error)
}

// Store persists what a refresh produces
type Store interface {
	StartRun() (*models.RefreshRun, error)
	FinishRun(run *models.RefreshRun, runErr error) error
	SaveSnapshot(s models.AccountSnapshot) error
	LatestSnapshot() (*models.AccountSnapshot, error)
	SaveUsagePoints(points []models.UsagePoint) error
	ListUsagePoints() ([]models.UsagePoint, error)
	SavePayment(p models.Payment) (bool, error)
	KnownBills() (map[string]bool, error)
	MarkBillsSuperseded(billIDs ...string) error
	SavePeriod(p models.BillingPeriod) (bool, error)
	ListPDFPeriods() ([]models.BillingPeriod, error)
	ListPeriods() ([]models.BillingPeriod, error)
	ListUnpublishedPeriods() ([]models.BillingPeriod, error)
	MarkPublished(ids ...int) error
}

// SensorSink receives sensor states
type SensorSink interface {
	PublishSensors(accountID string, values map[string]decimal.Decimal) (int, error)
}

// StatisticsSink receives long-term statistics
type StatisticsSink interface {
	ImportStatistics(ctx context.Context, series ...publisher.Series) error
}

// Options control a refresh
type Options struct {
	HistoryDays int
	PaymentDays int
	Publish     bool // publish after a successful fetch
}

// Summary reports what one refresh did
type Summary struct {
	Run            *models.RefreshRun
	Snapshot       models.AccountSnapshot
	UsagePoints    int
	Bills          int
	PeriodsParsed  int
	PeriodsSkipped int
	PeriodsSaved   int
	NewPayments    int
	Published      *PublishSummary
}

// PublishSummary reports what a publish did
type PublishSummary struct {
	Sensors    int
	Statistics int // periods sent as statistics rows
	Skipped    bool
}

// Coordinator runs refreshes against one account
type Coordinator struct {
	api        API
	store      Store
	reconciler *reconcile.Reconciler
	sensors    SensorSink
	stats      StatisticsSink
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a coordinator. Sinks are optional; a nil sink is skipped.
func New(api API, store Store, sensors SensorSink, stats StatisticsSink, opts Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = 365
	}
	if opts.PaymentDays <= 0 {
		opts.PaymentDays = 730
	}
	return &Coordinator{
		api:        api,
		store:      store,
		reconciler: reconcile.New(api, logger),
		sensors:    sensors,
		stats:      stats,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Refresh polls the account, reconciles new bills and stores the result.
// Authentication and API failures end the run and are returned; a bill
// that cannot be read is only logged.
func (c *Coordinator) Refresh(ctx context.Context) (*Summary, error) {
	run, err := c.store.StartRun()
	if err != nil {
		return nil, err
	}
	sum := &Summary{Run: run}

	err = c.refresh(ctx, sum)
	run.PeriodsParsed = sum.PeriodsParsed
	run.PeriodsSkipped = sum.PeriodsSkipped
	if ferr := c.store.FinishRun(run, err); ferr != nil {
		c.logger.Warn("could not record refresh run", zap.Error(ferr))
	}
	if err != nil {
		c.logger.Error("refresh failed", zap.String("run_id", run.ID), zap.Error(err))
		return sum, err
	}

	c.logger.Info("refresh complete",
		zap.String("run_id", run.ID),
		zap.Int("usage_points", sum.UsagePoints),
		zap.Int("bills", sum.Bills),
		zap.Int("periods_parsed", sum.PeriodsParsed),
		zap.Int("periods_skipped", sum.PeriodsSkipped),
		zap.Int("periods_saved", sum.PeriodsSaved))
	return sum, nil
}

func (c *Coordinator) refresh(ctx context.Context, sum *Summary) error {
	if err := c.api.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}

	snap, err := c.api.Snapshot(ctx)
	if err != nil {
		return err
	}
	snap.FetchedAt = c.now()
	if err := c.store.SaveSnapshot(snap); err != nil {
		return err
	}
	sum.Snapshot = snap

	end := c.now()
	start := end.AddDate(0, 0, -c.opts.HistoryDays)

	points, err := c.api.GetUsagePoints(ctx, delco.FrequencyMonthly, start, end)
	switch {
	case errors.Is(err, delco.ErrNoUsageData):
		c.logger.Warn("no monthly usage returned", zap.Error(err))
	case err != nil:
		return err
	default:
		valid, bad := reconcile.ValidPoints(points)
		for _, pt := range bad {
			c.logger.Warn("skipping usage point with bad period", zap.String("period", pt.Period))
		}
		if err := c.store.SaveUsagePoints(valid); err != nil {
			return err
		}
		sum.UsagePoints = len(valid)
	}

	bills, err := c.api.GetBillingHistory(ctx, start, end)
	if err != nil {
		return err
	}
	sum.Bills = len(bills)

	if err := c.savePayments(ctx, sum); err != nil {
		return err
	}

	if err := c.reconcile(ctx, bills, sum); err != nil {
		return err
	}

	if c.opts.Publish {
		pub, err := c.Publish(ctx, false)
		if err != nil {
			return fmt.Errorf("publishing: %w", err)
		}
		sum.Published = pub
	}
	return nil
}

func (c *Coordinator) savePayments(ctx context.Context, sum *Summary) error {
	end := c.now()
	payments, err := c.api.GetPaymentHistory(ctx, end.AddDate(0, 0, -c.opts.PaymentDays), end)
	if err != nil {
		return err
	}
	for _, p := range payments {
		added, err := c.store.SavePayment(p)
		if err != nil {
			return err
		}
		if added {
			sum.NewPayments++
		}
	}
	return nil
}

// reconcile parses new bills and folds them into the stored periods along
// with every monthly point that no bill covers
func (c *Coordinator) reconcile(ctx context.Context, bills []delco.Bill, sum *Summary) error {
	known, err := c.store.KnownBills()
	if err != nil {
		return err
	}

	res, err := c.reconciler.Reconcile(ctx, bills, func(id string) bool { return known[id] })
	if err != nil {
		return err
	}
	sum.PeriodsParsed = len(res.Periods)
	sum.PeriodsSkipped = len(res.Skipped)

	if len(res.Dropped) > 0 {
		ids := make([]string, 0, len(res.Dropped))
		for _, p := range res.Dropped {
			ids = append(ids, p.BillID)
		}
		if err := c.store.MarkBillsSuperseded(ids...); err != nil {
			return err
		}
	}

	for _, p := range res.Periods {
		saved, err := c.store.SavePeriod(p)
		if err != nil {
			return err
		}
		if saved {
			sum.PeriodsSaved++
		}
	}

	pdfPeriods, err := c.store.ListPDFPeriods()
	if err != nil {
		return err
	}
	points, err := c.store.ListUsagePoints()
	if err != nil {
		return err
	}
	monthly, bad := reconcile.Supersede(points, pdfPeriods)
	for _, pt := range bad {
		c.logger.Warn("skipping stored usage point with bad period", zap.String("period", pt.Period))
	}
	for _, p := range monthly {
		saved, err := c.store.SavePeriod(p)
		if err != nil {
			return err
		}
		if saved {
			sum.PeriodsSaved++
		}
	}
	return nil
}

// Publish pushes sensor states and statistics to Home Assistant. Statistics
// are sent as the full series so sums stay consistent; unless all is set
// they are only sent when some period has not been published yet.
func (c *Coordinator) Publish(ctx context.Context, all bool) (*PublishSummary, error) {
	out := &PublishSummary{}

	if c.sensors != nil {
		snap, err := c.store.LatestSnapshot()
		if err != nil {
			return out, err
		}
		points, err := c.store.ListUsagePoints()
		if err != nil {
			return out, err
		}
		var latest *models.UsagePoint
		if len(points) > 0 {
			latest = &points[len(points)-1]
		}
		accountID := ""
		if snap != nil {
			accountID = snap.AccountID
		}
		n, err := c.sensors.PublishSensors(accountID, publisher.SensorValues(snap, latest))
		if err != nil {
			return out, err
		}
		out.Sensors = n
	}

	if c.stats == nil {
		return out, nil
	}

	if !all {
		pending, err := c.store.ListUnpublishedPeriods()
		if err != nil {
			return out, err
		}
		if len(pending) == 0 {
			out.Skipped = true
			return out, nil
		}
	}

	n, err := c.PublishStatistics(ctx)
	if err != nil {
		return out, err
	}
	out.Statistics = n
	return out, nil
}

// PublishStatistics imports the consumption and cost series for every
// stored period and marks them published.
func (c *Coordinator) PublishStatistics(ctx context.Context) (int, error) {
	if c.stats == nil {
		return 0, fmt.Errorf("Home Assistant statistics are not configured")
	}

	periods, err := c.store.ListPeriods()
	if err != nil {
		return 0, err
	}
	if len(periods) == 0 {
		return 0, nil
	}

	consumption, cost := publisher.BuildStatistics(periods)
	err = c.stats.ImportStatistics(ctx,
		publisher.Series{Metadata: publisher.ConsumptionMetadata, Rows: consumption},
		publisher.Series{Metadata: publisher.CostMetadata, Rows: cost})
	if err != nil {
		return 0, err
	}

	ids := make([]int, 0, len(periods))
	for _, p := range periods {
		if !p.Published {
			ids = append(ids, p.ID)
		}
	}
	if err := c.store.MarkPublished(ids...); err != nil {
		return len(periods), err
	}
	return len(periods), nil
}
