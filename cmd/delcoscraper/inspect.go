package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jgoulah/delcoscraper/internal/billpdf"
)

var inspectText bool

var inspectCmd = &cobra.Command{
	Use:   "inspect [bill.pdf]",
	Short: "Parse a downloaded bill PDF",
	Long: `Extracts the text of a bill PDF and shows the billing period the parser finds in
it. Use --text to dump the extracted text when a bill does not parse.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectText, "text", false, "Print the extracted text")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	text, err := billpdf.ExtractText(data)
	if err != nil {
		return fmt.Errorf("extracting text: %w", err)
	}

	if inspectText {
		fmt.Println("=== Extracted text ===")
		fmt.Println(text)
		fmt.Println("======================")
	}

	bill, err := billpdf.Parse(text)
	if err != nil {
		return fmt.Errorf("parsing bill: %w", err)
	}

	fmt.Printf("✓ Layout:          %s\n", bill.Layout)
	fmt.Printf("  Service period:  %s to %s\n", bill.ServiceFrom.Format("2006-01-02"), bill.ServiceTo.Format("2006-01-02"))
	fmt.Printf("  Meter readings:  %d to %d\n", bill.PriorReading, bill.CurrentReading)
	fmt.Printf("  Usage:           %s gallons (%s HGAL)\n", bill.UsageGallons.String(), bill.UsageHGAL().String())
	fmt.Printf("  Water charges:   $%s\n", bill.Charges.StringFixed(2))
	return nil
}
