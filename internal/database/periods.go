package database

import (
	"database/sql"
	"fmt"

	"github.com/jgoulah/delcoscraper/pkg/models"
)

const periodColumns = `id, start_date, end_date, usage_hgal, cost_usd, source, bill_id, bill_date,
	read_date, due_date, bill_amount, prior_reading, current_reading, layout, published`

// SavePeriod stores a billing period and reports whether anything changed.
//
// Stored periods never overlap. A PDF-derived period replaces the monthly
// periods it overlaps and any PDF-derived period from an older bill. A
// monthly period is ignored wherever a PDF-derived period already exists.
// The bill that loses an overlap is recorded as superseded.
func (db *DB) SavePeriod(p models.BillingPeriod) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT `+periodColumns+` FROM billing_periods
		WHERE start_date < ? AND end_date > ?`,
		formatDate(p.EndDate), formatDate(p.StartDate))
	if err != nil {
		return false, fmt.Errorf("querying overlapping periods: %w", err)
	}
	var overlapping []models.BillingPeriod
	for rows.Next() {
		existing, err := scanPeriod(rows)
		if err != nil {
			rows.Close()
			return false, err
		}
		overlapping = append(overlapping, existing)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}

	var (
		replace  []int
		replaced []string
	)
	for _, existing := range overlapping {
		switch {
		case samePeriod(existing, p):
			return false, nil
		case existing.Source == models.SourcePDFParsed && p.Source == models.SourceAPIMonthly:
			return false, nil
		case existing.Source == models.SourcePDFParsed && existing.BillDate.After(p.BillDate):
			if p.BillID == "" {
				return false, nil
			}
			if err := db.markSuperseded(tx, p.BillID); err != nil {
				return false, err
			}
			return false, tx.Commit()
		}
		replace = append(replace, existing.ID)
		if existing.Source == models.SourcePDFParsed && existing.BillID != p.BillID {
			replaced = append(replaced, existing.BillID)
		}
	}
	if err := db.markSuperseded(tx, replaced...); err != nil {
		return false, err
	}

	for _, id := range replace {
		if _, err := tx.Exec(`DELETE FROM billing_periods WHERE id = ?`, id); err != nil {
			return false, fmt.Errorf("removing replaced period: %w", err)
		}
	}

	_, err = tx.Exec(`
	INSERT INTO billing_periods (start_date, end_date, usage_hgal, cost_usd, source, bill_id, bill_date,
		read_date, due_date, bill_amount, prior_reading, current_reading, layout, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatDate(p.StartDate), formatDate(p.EndDate),
		p.UsageHGAL.String(), p.CostUSD.String(), string(p.Source),
		p.BillID, formatDate(p.BillDate), formatDate(p.ReadDate), formatDate(p.DueDate),
		p.BillAmount.String(), p.PriorReading, p.CurrentReading, p.Layout,
		db.now().UTC().Format(timeLayout))
	if err != nil {
		return false, fmt.Errorf("inserting billing period: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing billing period: %w", err)
	}
	return true, nil
}

func samePeriod(a, b models.BillingPeriod) bool {
	return a.StartDate.Equal(b.StartDate) &&
		a.EndDate.Equal(b.EndDate) &&
		a.Source == b.Source &&
		a.BillID == b.BillID &&
		a.UsageHGAL.Equal(b.UsageHGAL) &&
		a.CostUSD.Equal(b.CostUSD)
}

// ListPeriods returns every stored period in start order
func (db *DB) ListPeriods() ([]models.BillingPeriod, error) {
	return db.queryPeriods(`SELECT ` + periodColumns + ` FROM billing_periods ORDER BY start_date ASC`)
}

// ListUnpublishedPeriods returns periods not yet sent to Home Assistant
func (db *DB) ListUnpublishedPeriods() ([]models.BillingPeriod, error) {
	return db.queryPeriods(`SELECT ` + periodColumns + ` FROM billing_periods
		WHERE published = 0 ORDER BY start_date ASC`)
}

// ListPDFPeriods returns the stored PDF-derived periods in start order
func (db *DB) ListPDFPeriods() ([]models.BillingPeriod, error) {
	return db.queryPeriods(`SELECT `+periodColumns+` FROM billing_periods
		WHERE source = ? ORDER BY start_date ASC`, string(models.SourcePDFParsed))
}

func (db *DB) queryPeriods(query string, args ...any) ([]models.BillingPeriod, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying billing periods: %w", err)
	}
	defer rows.Close()

	var results []models.BillingPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

func scanPeriod(row rowScanner) (models.BillingPeriod, error) {
	var p models.BillingPeriod
	var start, end, usage, cost, source sql.NullString
	var billID, billDate, readDate, dueDate sql.NullString
	var billAmount, layout sql.NullString
	var prior, current sql.NullInt64
	var published int
	if err := row.Scan(&p.ID, &start, &end, &usage, &cost, &source, &billID, &billDate,
		&readDate, &dueDate, &billAmount, &prior, &current, &layout, &published); err != nil {
		return p, fmt.Errorf("scanning billing period: %w", err)
	}

	var err error
	if p.StartDate, err = parseDate(start); err != nil {
		return p, err
	}
	if p.EndDate, err = parseDate(end); err != nil {
		return p, err
	}
	if p.BillDate, err = parseDate(billDate); err != nil {
		return p, err
	}
	if p.ReadDate, err = parseDate(readDate); err != nil {
		return p, err
	}
	if p.DueDate, err = parseDate(dueDate); err != nil {
		return p, err
	}
	if p.UsageHGAL, err = parseDecimal(usage); err != nil {
		return p, err
	}
	if p.CostUSD, err = parseDecimal(cost); err != nil {
		return p, err
	}
	if p.BillAmount, err = parseDecimal(billAmount); err != nil {
		return p, err
	}

	p.Source = models.Source(source.String)
	p.BillID = billID.String
	p.Layout = layout.String
	p.PriorReading = prior.Int64
	p.CurrentReading = current.Int64
	p.Published = published != 0
	return p, nil
}

// KnownBills returns the ids of bills that need no further parsing: those
// with a stored period and those superseded by a later bill
func (db *DB) KnownBills() (map[string]bool, error) {
	rows, err := db.conn.Query(`
	SELECT bill_id FROM billing_periods WHERE bill_id IS NOT NULL AND bill_id != ''
	UNION
	SELECT bill_id FROM superseded_bills`)
	if err != nil {
		return nil, fmt.Errorf("querying bill ids: %w", err)
	}
	defer rows.Close()

	known := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning bill id: %w", err)
		}
		known[id] = true
	}
	return known, rows.Err()
}

// MarkBillsSuperseded records bills whose period lost an overlap to a
// later bill, so their PDFs are not fetched again
func (db *DB) MarkBillsSuperseded(billIDs ...string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := db.markSuperseded(tx, billIDs...); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) markSuperseded(tx *sql.Tx, billIDs ...string) error {
	now := db.now().UTC().Format(timeLayout)
	for _, id := range billIDs {
		if id == "" {
			continue
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO superseded_bills (bill_id, created_at) VALUES (?, ?)`, id, now); err != nil {
			return fmt.Errorf("recording superseded bill %s: %w", id, err)
		}
	}
	return nil
}

// MarkPublished marks billing periods as published
func (db *DB) MarkPublished(ids ...int) error {
	for _, id := range ids {
		if _, err := db.conn.Exec(`UPDATE billing_periods SET published = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("marking period %d as published: %w", id, err)
		}
	}
	return nil
}
