package database

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/jgoulah/delcoscraper/pkg/models"
)

// SaveUsagePoints upserts the monthly usage series
func (db *DB) SaveUsagePoints(points []models.UsagePoint) error {
	now := db.now().UTC().Format(timeLayout)
	for _, pt := range points {
		if _, err := pt.Month(); err != nil {
			return err
		}
		_, err := db.conn.Exec(`
		INSERT INTO usage_points (period, value_hgal, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(period) DO UPDATE SET value_hgal = excluded.value_hgal, updated_at = excluded.updated_at`,
			pt.Period, pt.ValueHGAL.String(), now)
		if err != nil {
			return fmt.Errorf("saving usage point %s: %w", pt.Period, err)
		}
	}
	return nil
}

// ListUsagePoints returns the stored monthly series, oldest first
func (db *DB) ListUsagePoints() ([]models.UsagePoint, error) {
	rows, err := db.conn.Query(`SELECT period, value_hgal FROM usage_points ORDER BY period ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying usage points: %w", err)
	}
	defer rows.Close()

	var results []models.UsagePoint
	for rows.Next() {
		var pt models.UsagePoint
		var value sql.NullString
		if err := rows.Scan(&pt.Period, &value); err != nil {
			return nil, fmt.Errorf("scanning usage point: %w", err)
		}
		if pt.ValueHGAL, err = parseDecimal(value); err != nil {
			return nil, err
		}
		results = append(results, pt)
	}
	return results, rows.Err()
}

// SaveSnapshot records the account balances from one poll
func (db *DB) SaveSnapshot(s models.AccountSnapshot) error {
	fetched := s.FetchedAt
	if fetched.IsZero() {
		fetched = db.now()
	}
	_, err := db.conn.Exec(`
	INSERT INTO account_snapshots (account_id, balance, previous_balance, last_bill_amount, payments_received, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		s.AccountID, s.Balance.String(), s.PreviousBalance.String(),
		s.LastBillAmount.String(), s.PaymentsReceived.String(),
		fetched.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("saving account snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot, or nil if there is none
func (db *DB) LatestSnapshot() (*models.AccountSnapshot, error) {
	row := db.conn.QueryRow(`
	SELECT account_id, balance, previous_balance, last_bill_amount, payments_received, fetched_at
	FROM account_snapshots ORDER BY fetched_at DESC, id DESC LIMIT 1`)

	var s models.AccountSnapshot
	var balance, previous, lastBill, payments, fetched sql.NullString
	err := row.Scan(&s.AccountID, &balance, &previous, &lastBill, &payments, &fetched)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying account snapshot: %w", err)
	}

	if s.Balance, err = parseDecimal(balance); err != nil {
		return nil, err
	}
	if s.PreviousBalance, err = parseDecimal(previous); err != nil {
		return nil, err
	}
	if s.LastBillAmount, err = parseDecimal(lastBill); err != nil {
		return nil, err
	}
	if s.PaymentsReceived, err = parseDecimal(payments); err != nil {
		return nil, err
	}
	if s.FetchedAt, err = parseTime(fetched); err != nil {
		return nil, err
	}
	return &s, nil
}

// SavePayment inserts a payment, ignoring duplicates. It reports whether
// the payment was new.
func (db *DB) SavePayment(p models.Payment) (bool, error) {
	res, err := db.conn.Exec(`
	INSERT OR IGNORE INTO payments (date, amount, tender_type, source) VALUES (?, ?, ?, ?)`,
		formatDate(p.Date), p.Amount.String(), p.TenderType, p.Source)
	if err != nil {
		return false, fmt.Errorf("saving payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListPayments returns stored payments, newest first
func (db *DB) ListPayments() ([]models.Payment, error) {
	rows, err := db.conn.Query(`SELECT date, amount, tender_type, source FROM payments ORDER BY date DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying payments: %w", err)
	}
	defer rows.Close()

	var results []models.Payment
	for rows.Next() {
		var p models.Payment
		var date, amount, tender, source sql.NullString
		if err := rows.Scan(&date, &amount, &tender, &source); err != nil {
			return nil, fmt.Errorf("scanning payment: %w", err)
		}
		if p.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		if p.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		p.TenderType = tender.String
		p.Source = source.String
		results = append(results, p)
	}
	return results, rows.Err()
}

// Run statuses
const (
	RunRunning = "running"
	RunOK      = "ok"
	RunFailed  = "failed"
)

// StartRun records the start of a refresh cycle
func (db *DB) StartRun() (*models.RefreshRun, error) {
	run := &models.RefreshRun{
		ID:        uuid.NewString(),
		StartedAt: db.now().UTC(),
		Status:    RunRunning,
	}
	_, err := db.conn.Exec(`INSERT INTO refresh_runs (id, started_at, status) VALUES (?, ?, ?)`,
		run.ID, run.StartedAt.Format(timeLayout), run.Status)
	if err != nil {
		return nil, fmt.Errorf("recording run start: %w", err)
	}
	return run, nil
}

// FinishRun records the outcome of a refresh cycle. A nil runErr marks the
// run successful.
func (db *DB) FinishRun(run *models.RefreshRun, runErr error) error {
	run.FinishedAt = db.now().UTC()
	run.Status = RunOK
	run.Error = ""
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
	}

	_, err := db.conn.Exec(`
	UPDATE refresh_runs SET finished_at = ?, status = ?, error = ?, periods_parsed = ?, periods_skipped = ?
	WHERE id = ?`,
		run.FinishedAt.Format(timeLayout), run.Status, run.Error,
		run.PeriodsParsed, run.PeriodsSkipped, run.ID)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	return nil
}

// ListRuns returns the most recent refresh runs, newest first
func (db *DB) ListRuns(limit int) ([]models.RefreshRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.conn.Query(`
	SELECT id, started_at, finished_at, status, error, periods_parsed, periods_skipped
	FROM refresh_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying refresh runs: %w", err)
	}
	defer rows.Close()

	var results []models.RefreshRun
	for rows.Next() {
		var r models.RefreshRun
		var started, finished, errText sql.NullString
		if err := rows.Scan(&r.ID, &started, &finished, &r.Status, &errText, &r.PeriodsParsed, &r.PeriodsSkipped); err != nil {
			return nil, fmt.Errorf("scanning refresh run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		r.Error = errText.String
		results = append(results, r)
	}
	return results, rows.Err()
}
