package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jgoulah/delcoscraper/pkg/models"
)

var (
	importStart    string
	importEnd      string
	importGallons  string
	importHGAL     string
	importCost     string
	importBillDate string
	importBillID   string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Add a billing period by hand",
	Long: `Stores a billing period read off a paper bill, for bills the API no longer
returns or whose PDF cannot be parsed. The period is treated like one parsed
from a PDF: it replaces any monthly usage it overlaps.

Dates are YYYY-MM-DD. The end date is the next period's start date.`,
	Example: `  delcoscraper import --start 2024-01-10 --end 2024-02-11 --gallons 4200 --cost 51.23`,
	RunE:    runImport,
}

func init() {
	importCmd.Flags().StringVar(&importStart, "start", "", "First day of the service period (required)")
	importCmd.Flags().StringVar(&importEnd, "end", "", "Day the service period ends (required)")
	importCmd.Flags().StringVar(&importGallons, "gallons", "", "Usage in gallons")
	importCmd.Flags().StringVar(&importHGAL, "hgal", "", "Usage in hundred gallons")
	importCmd.Flags().StringVar(&importCost, "cost", "0", "Water charge in dollars")
	importCmd.Flags().StringVar(&importBillDate, "bill-date", "", "Date the bill was issued (default: end date)")
	importCmd.Flags().StringVar(&importBillID, "bill-id", "", "Bill identifier (default: manual-<start>)")
	importCmd.MarkFlagRequired("start")
	importCmd.MarkFlagRequired("end")
	importCmd.MarkFlagsMutuallyExclusive("gallons", "hgal")
	importCmd.MarkFlagsOneRequired("gallons", "hgal")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	period, err := manualPeriod()
	if err != nil {
		return err
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	saved, err := db.SavePeriod(period)
	if err != nil {
		return fmt.Errorf("saving billing period: %w", err)
	}
	if !saved {
		fmt.Printf("⚠ Period %s to %s not saved: it is unchanged or covered by a newer bill\n",
			importStart, importEnd)
		return nil
	}

	fmt.Printf("✓ Saved %s to %s: %s gallons, $%s\n",
		importStart, importEnd, period.Gallons().String(), period.CostUSD.StringFixed(2))
	return nil
}

func manualPeriod() (models.BillingPeriod, error) {
	start, err := time.Parse("2006-01-02", importStart)
	if err != nil {
		return models.BillingPeriod{}, fmt.Errorf("invalid --start: %w", err)
	}
	end, err := time.Parse("2006-01-02", importEnd)
	if err != nil {
		return models.BillingPeriod{}, fmt.Errorf("invalid --end: %w", err)
	}

	var usage decimal.Decimal
	if importHGAL != "" {
		usage, err = decimal.NewFromString(importHGAL)
		if err != nil {
			return models.BillingPeriod{}, fmt.Errorf("invalid --hgal: %w", err)
		}
	} else {
		gallons, err := decimal.NewFromString(importGallons)
		if err != nil {
			return models.BillingPeriod{}, fmt.Errorf("invalid --gallons: %w", err)
		}
		usage = gallons.Div(models.GallonsPerHGAL)
	}
	if usage.IsNegative() {
		return models.BillingPeriod{}, fmt.Errorf("usage cannot be negative")
	}

	cost, err := decimal.NewFromString(importCost)
	if err != nil {
		return models.BillingPeriod{}, fmt.Errorf("invalid --cost: %w", err)
	}

	billDate := end
	if importBillDate != "" {
		billDate, err = time.Parse("2006-01-02", importBillDate)
		if err != nil {
			return models.BillingPeriod{}, fmt.Errorf("invalid --bill-date: %w", err)
		}
	}

	billID := importBillID
	if billID == "" {
		billID = "manual-" + importStart
	}

	p := models.BillingPeriod{
		StartDate: start,
		EndDate:   end,
		UsageHGAL: usage,
		CostUSD:   cost,
		Source:    models.SourcePDFParsed,
		BillID:    billID,
		BillDate:  billDate,
		Layout:    "manual",
	}
	return p, p.Validate()
}
