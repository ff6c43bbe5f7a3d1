// Package reconcile turns billing-history records into exact billing periods
// by reading each bill's PDF, and merges them with the monthly usage series.
package reconcile

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/jgoulah/delcoscraper/internal/billpdf"
	"github.com/jgoulah/delcoscraper/internal/delco"
	"github.com/jgoulah/delcoscraper/pkg/models"
)

// BillSource downloads bill documents
type BillSource interface {
	GetBillPDF(ctx context.Context, bill delco.Bill) ([]byte, error)
}

// Skip records a bill that could not be turned into a period
type Skip struct {
	BillID string
	Err    error
}

// Result is the outcome of one reconciliation pass
type Result struct {
	Periods []models.BillingPeriod // sorted by start date, never overlapping
	Skipped []Skip
	Dropped []models.BillingPeriod // lost an overlap to a later bill
}

// Reconciler fetches and parses bill PDFs
type Reconciler struct {
	source BillSource
	parse  func([]byte) (*billpdf.Bill, error)
	logger *zap.Logger
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithParser replaces the PDF parser, mainly so tests can feed bill text
func WithParser(parse func([]byte) (*billpdf.Bill, error)) Option {
	return func(r *Reconciler) { r.parse = parse }
}

// New creates a reconciler
func New(source BillSource, logger *zap.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{
		source: source,
		parse:  billpdf.ParsePDF,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile parses the PDF of every bill that known does not report as
// already stored. A bill whose PDF cannot be fetched or parsed is skipped
// with a warning; only a cancelled context fails the pass.
func (r *Reconciler) Reconcile(ctx context.Context, bills []delco.Bill, known func(billID string) bool) (Result, error) {
	var (
		res     Result
		periods []models.BillingPeriod
	)

	for _, bill := range bills {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		id := bill.BillID.String()
		if known != nil && known(id) {
			continue
		}

		p, err := r.period(ctx, bill)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			r.logger.Warn("skipping bill",
				zap.String("bill_id", id),
				zap.String("bill_date", bill.BillDate),
				zap.Error(err))
			res.Skipped = append(res.Skipped, Skip{BillID: id, Err: err})
			continue
		}
		periods = append(periods, p)
	}

	res.Periods, res.Dropped = Deoverlap(periods)
	for _, p := range res.Dropped {
		r.logger.Warn("dropping overlapping period from older bill",
			zap.String("bill_id", p.BillID),
			zap.String("start", p.StartDate.Format("2006-01-02")),
			zap.String("end", p.EndDate.Format("2006-01-02")))
	}
	return res, nil
}

func (r *Reconciler) period(ctx context.Context, bill delco.Bill) (models.BillingPeriod, error) {
	billDate, readDate, dueDate, err := bill.Dates()
	if err != nil {
		return models.BillingPeriod{}, err
	}

	data, err := r.source.GetBillPDF(ctx, bill)
	if err != nil {
		return models.BillingPeriod{}, err
	}

	parsed, err := r.parse(data)
	if err != nil {
		return models.BillingPeriod{}, fmt.Errorf("parsing bill PDF: %w", err)
	}

	p := parsed.Period()
	p.BillID = bill.BillID.String()
	p.BillDate = billDate
	p.ReadDate = readDate
	p.DueDate = dueDate
	p.BillAmount = bill.BillAmount.Value()
	if err := p.Validate(); err != nil {
		return models.BillingPeriod{}, err
	}
	return p, nil
}

// Deoverlap keeps, for every group of overlapping periods, the one from the
// latest bill. Kept periods are returned in start order.
func Deoverlap(periods []models.BillingPeriod) (kept, dropped []models.BillingPeriod) {
	byRecency := make([]models.BillingPeriod, len(periods))
	copy(byRecency, periods)
	sort.SliceStable(byRecency, func(i, j int) bool {
		a, b := byRecency[i], byRecency[j]
		if !a.BillDate.Equal(b.BillDate) {
			return a.BillDate.After(b.BillDate)
		}
		return a.StartDate.After(b.StartDate)
	})

	for _, p := range byRecency {
		if overlapsAny(p, kept) {
			dropped = append(dropped, p)
			continue
		}
		kept = append(kept, p)
	}

	SortByStart(kept)
	return kept, dropped
}

// Supersede turns monthly usage points into calendar-month periods, leaving
// out every month that a PDF-derived period already covers. Points whose
// label is not a YYYY-MM month are returned as bad instead of failing the
// rest.
func Supersede(points []models.UsagePoint, pdfPeriods []models.BillingPeriod) (periods []models.BillingPeriod, bad []models.UsagePoint) {
	for _, pt := range points {
		p, err := pt.AsPeriod()
		if err != nil {
			bad = append(bad, pt)
			continue
		}
		if overlapsAny(p, pdfPeriods) {
			continue
		}
		periods = append(periods, p)
	}
	SortByStart(periods)
	return periods, bad
}

// ValidPoints splits usage points into those with a usable month label and
// the rest
func ValidPoints(points []models.UsagePoint) (valid, bad []models.UsagePoint) {
	for _, pt := range points {
		if _, err := pt.Month(); err != nil {
			bad = append(bad, pt)
			continue
		}
		valid = append(valid, pt)
	}
	return valid, bad
}

// SortByStart orders periods by start date in place
func SortByStart(periods []models.BillingPeriod) {
	sort.SliceStable(periods, func(i, j int) bool {
		return periods[i].StartDate.Before(periods[j].StartDate)
	})
}

func overlapsAny(p models.BillingPeriod, others []models.BillingPeriod) bool {
	for _, o := range others {
		if p.Overlaps(o) {
			return true
		}
	}
	return false
}
