package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docmatch/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "docmatch",
	Short: "docmatch - cross-check purchase orders, invoices, and delivery notes",
	Long: `docmatch reconciles the documents of one purchasing flow against each
other. It extracts structured data from each document, matches line items
across the purchase order and invoice, validates amounts against line-item
ground truth, and reports ranked discrepancies with their monetary impact.

Documents are consumed either as candidate-bag JSON files (the output of an
OCR/layout service) or as raw PDFs processed through Google Document AI.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("docmatch - document reconciliation engine")
		fmt.Println("Use --help to see available commands.")
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log := logger.WithComponent("cmd")
		log.Error().Err(err).Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
