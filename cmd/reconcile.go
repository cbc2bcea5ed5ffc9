package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docmatch/internal/config"
	"docmatch/internal/logger"
	"docmatch/pkg/models"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile a purchase order and invoice, optionally with a delivery note",
	Long: `Reconcile extracts each document, pairs line items across the purchase
order and invoice, and reports typed discrepancies ranked by severity and
monetary impact.

Inputs are candidate-bag JSON files as produced by "docmatch extract" or by
an OCR/layout service directly. The delivery note is optional; when its
extraction fails the reconciliation continues without it.

Optional environment variables:
  OPENAI_API_KEY - enables the LLM validation pass for disputed amounts`,
	Example: `  # PO against invoice
  docmatch reconcile --po po.json --invoice invoice.json

  # Include a delivery note, write the result to a file
  docmatch reconcile --po po.json --invoice invoice.json --delivery-note dn.json --output result.json`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().String("po", "", "Purchase order input JSON file (required)")
	reconcileCmd.Flags().String("invoice", "", "Invoice input JSON file (required)")
	reconcileCmd.Flags().String("delivery-note", "", "Delivery note input JSON file (optional)")
	reconcileCmd.Flags().String("output", "", "Write the result JSON here instead of stdout")
	_ = reconcileCmd.MarkFlagRequired("po")
	_ = reconcileCmd.MarkFlagRequired("invoice")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("reconcile")

	poPath, _ := cmd.Flags().GetString("po")
	invPath, _ := cmd.Flags().GetString("invoice")
	dnPath, _ := cmd.Flags().GetString("delivery-note")
	outPath, _ := cmd.Flags().GetString("output")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	po, err := readDocumentInput(poPath, models.RolePurchaseOrder)
	if err != nil {
		return err
	}
	inv, err := readDocumentInput(invPath, models.RoleInvoice)
	if err != nil {
		return err
	}
	var dn *models.DocumentInput
	if dnPath != "" {
		d, err := readDocumentInput(dnPath, models.RoleDeliveryNote)
		if err != nil {
			return err
		}
		dn = d
	}

	log.Info().
		Str("po", poPath).
		Str("invoice", invPath).
		Str("delivery_note", dnPath).
		Bool("llm_enabled", cfg.LLMEnabled()).
		Msg("Starting reconciliation")

	orchestrator := buildOrchestrator(cfg)
	result, err := orchestrator.ReconcileDocuments(context.Background(), *po, *inv, dn)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	if err := writeJSON(outPath, result); err != nil {
		return err
	}

	log.Info().
		Str("result_id", result.ID).
		Bool("matching_attempted", result.MatchingAttempted).
		Int("discrepancies", len(result.Discrepancies)).
		Bool("perfect_match", result.PerfectMatch).
		Msg("Reconciliation finished")
	return nil
}

// readDocumentInput loads a candidate-bag JSON file and stamps the expected
// role, deriving a document ID from the file name when the file carries none.
func readDocumentInput(path string, role models.DocumentRole) (*models.DocumentInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s input: %w", role, err)
	}
	var in models.DocumentInput
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("parsing %s input %s: %w", role, path, err)
	}
	in.Role = role
	if in.DocumentID == "" {
		in.DocumentID = path
	}
	return &in, nil
}

func writeJSON(path string, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	out = append(out, '\n')
	if path == "" {
		_, err = os.Stdout.Write(out)
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("writing result to %s: %w", path, err)
	}
	return nil
}
