package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jgoulah/delcoscraper/internal/billpdf"
	"github.com/jgoulah/delcoscraper/internal/delco"
	"github.com/jgoulah/delcoscraper/pkg/models"
)

// fakeBills serves bill "PDFs" that are really the extracted text
type fakeBills struct {
	docs  map[string]string
	calls []string
}

func (f *fakeBills) GetBillPDF(_ context.Context, bill delco.Bill) ([]byte, error) {
	id := bill.BillID.String()
	f.calls = append(f.calls, id)
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", delco.ErrBillNotFound, id)
	}
	return []byte(doc), nil
}

func parseText(b []byte) (*billpdf.Bill, error) {
	return billpdf.Parse(string(b))
}

func newTestReconciler(src BillSource) *Reconciler {
	return New(src, zap.NewNop(), WithParser(parseText))
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func period(start, end, billDate string) models.BillingPeriod {
	p := models.BillingPeriod{
		StartDate: day(start),
		EndDate:   day(end),
		Source:    models.SourcePDFParsed,
		BillID:    billDate,
	}
	if billDate != "" {
		p.BillDate = day(billDate)
	}
	return p
}

func mid(from, to string, hgal int) string {
	return fmt.Sprintf("Water Charges - Residential 1 MAIN ST 77 %s - %s 1,000 1,0%02d %d $%d.50", from, to, hgal, hgal, hgal)
}

func TestReconcileParsesBills(t *testing.T) {
	src := &fakeBills{docs: map[string]string{
		"101": mid("01/10/25", "02/11/25", 42),
		"102": mid("02/11/25", "03/12/25", 38),
	}}
	r := newTestReconciler(src)

	bills := []delco.Bill{
		{BillID: "102", BillDate: "2025-03-15"},
		{BillID: "101", BillDate: "2025-02-14"},
	}
	res, err := r.Reconcile(context.Background(), bills, nil)
	require.NoError(t, err)
	require.Len(t, res.Periods, 2)
	assert.Empty(t, res.Skipped)

	first := res.Periods[0]
	assert.Equal(t, "101", first.BillID)
	assert.Equal(t, day("2025-01-10"), first.StartDate)
	assert.Equal(t, day("2025-02-11"), first.EndDate)
	assert.True(t, first.UsageHGAL.Equal(decimal.NewFromInt(42)))
	assert.Equal(t, day("2025-02-14"), first.BillDate)
	assert.Equal(t, models.SourcePDFParsed, first.Source)

	// Touching at 02/11 is not an overlap
	assert.Equal(t, "102", res.Periods[1].BillID)
}

func TestReconcileSkipsUnparseableBills(t *testing.T) {
	src := &fakeBills{docs: map[string]string{
		"201": "Thank you for your payment",
		"203": mid("01/10/25", "02/11/25", 42),
	}}
	r := newTestReconciler(src)

	bills := []delco.Bill{
		{BillID: "201", BillDate: "2025-01-15"},
		{BillID: "202", BillDate: "2025-01-20"},
		{BillID: "203", BillDate: "2025-02-14"},
	}
	res, err := r.Reconcile(context.Background(), bills, nil)
	require.NoError(t, err)

	require.Len(t, res.Periods, 1)
	assert.Equal(t, "203", res.Periods[0].BillID)

	require.Len(t, res.Skipped, 2)
	assert.ErrorIs(t, res.Skipped[0].Err, billpdf.ErrUnknownLayout)
	assert.ErrorIs(t, res.Skipped[1].Err, delco.ErrBillNotFound)
}

func TestReconcileSkipsKnownBills(t *testing.T) {
	src := &fakeBills{docs: map[string]string{
		"301": mid("01/10/25", "02/11/25", 42),
		"302": mid("02/11/25", "03/12/25", 38),
	}}
	r := newTestReconciler(src)

	bills := []delco.Bill{
		{BillID: "301", BillDate: "2025-02-14"},
		{BillID: "302", BillDate: "2025-03-15"},
	}
	known := func(id string) bool { return id == "301" }

	res, err := r.Reconcile(context.Background(), bills, known)
	require.NoError(t, err)
	require.Len(t, res.Periods, 1)
	assert.Equal(t, "302", res.Periods[0].BillID)
	assert.Equal(t, []string{"302"}, src.calls)
}

func TestReconcileIsIdempotent(t *testing.T) {
	src := &fakeBills{docs: map[string]string{
		"401": mid("01/10/25", "02/11/25", 42),
	}}
	r := newTestReconciler(src)
	bills := []delco.Bill{{BillID: "401", BillDate: "2025-02-14"}}

	a, err := r.Reconcile(context.Background(), bills, nil)
	require.NoError(t, err)
	b, err := r.Reconcile(context.Background(), bills, nil)
	require.NoError(t, err)
	assert.Equal(t, a.Periods, b.Periods)
}

func TestReconcileStopsOnCancel(t *testing.T) {
	r := newTestReconciler(&fakeBills{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Reconcile(ctx, []delco.Bill{{BillID: "1", BillDate: "2025-01-01"}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReconcileDropsOlderOverlappingBill(t *testing.T) {
	src := &fakeBills{docs: map[string]string{
		"501": mid("01/10/25", "02/11/25", 42),
		// corrected bill covering most of the same period
		"502": mid("01/12/25", "02/11/25", 40),
	}}
	r := newTestReconciler(src)

	bills := []delco.Bill{
		{BillID: "501", BillDate: "2025-02-14"},
		{BillID: "502", BillDate: "2025-02-20"},
	}
	res, err := r.Reconcile(context.Background(), bills, nil)
	require.NoError(t, err)

	require.Len(t, res.Periods, 1)
	assert.Equal(t, "502", res.Periods[0].BillID)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, "501", res.Dropped[0].BillID)
}

func TestDeoverlapNeverOverlaps(t *testing.T) {
	periods := []models.BillingPeriod{
		period("2025-01-01", "2025-02-01", "2025-02-05"),
		period("2025-01-15", "2025-02-15", "2025-02-20"),
		period("2025-02-15", "2025-03-15", "2025-03-20"),
		period("2025-03-01", "2025-03-10", "2025-03-12"),
		period("2024-12-01", "2025-01-01", "2025-01-05"),
	}

	kept, dropped := Deoverlap(periods)
	assert.Len(t, kept, 3)
	assert.Len(t, dropped, 2)

	for i := range kept {
		for j := i + 1; j < len(kept); j++ {
			assert.False(t, kept[i].Overlaps(kept[j]), "%s overlaps %s", kept[i].Key(), kept[j].Key())
		}
		if i > 0 {
			assert.True(t, kept[i-1].StartDate.Before(kept[i].StartDate))
		}
	}
	assert.Equal(t, day("2024-12-01"), kept[0].StartDate)
	assert.Equal(t, day("2025-01-15"), kept[1].StartDate)
	assert.Equal(t, day("2025-02-15"), kept[2].StartDate)
}

func TestSupersede(t *testing.T) {
	points := []models.UsagePoint{
		{Period: "2025-03", ValueHGAL: decimal.NewFromInt(30)},
		{Period: "2025-01", ValueHGAL: decimal.NewFromInt(41)},
		{Period: "2025-02", ValueHGAL: decimal.NewFromInt(39)},
	}
	pdf := []models.BillingPeriod{period("2025-01-10", "2025-02-11", "2025-02-14")}

	got, bad := Supersede(points, pdf)
	assert.Empty(t, bad)
	require.Len(t, got, 1)
	assert.Equal(t, day("2025-03-01"), got[0].StartDate)
	assert.Equal(t, day("2025-04-01"), got[0].EndDate)
	assert.Equal(t, models.SourceAPIMonthly, got[0].Source)
}

func TestSupersedeSkipsBadLabels(t *testing.T) {
	points := []models.UsagePoint{
		{Period: "March", ValueHGAL: decimal.NewFromInt(9)},
		{Period: "2025-4", ValueHGAL: decimal.NewFromInt(9)},
		{Period: "2025-05", ValueHGAL: decimal.NewFromInt(31)},
	}

	got, bad := Supersede(points, nil)
	require.Len(t, got, 1)
	assert.Equal(t, day("2025-05-01"), got[0].StartDate)
	require.Len(t, bad, 2)
	assert.Equal(t, "March", bad[0].Period)
}

func TestValidPoints(t *testing.T) {
	valid, bad := ValidPoints([]models.UsagePoint{
		{Period: "2025-01"},
		{Period: "2025-4"},
		{Period: ""},
		{Period: "2025-02"},
	})
	require.Len(t, valid, 2)
	assert.Equal(t, "2025-02", valid[1].Period)
	assert.Len(t, bad, 2)
}
