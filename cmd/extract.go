package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"docmatch/internal/config"
	"docmatch/internal/docai"
	"docmatch/internal/logger"
	"docmatch/pkg/models"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract structured data from a single document",
	Long: `Extract runs the multi-pass extraction pipeline over one document and
prints the normalized result: vendor, numbers, dates, amounts, line items,
and the per-field confidence and provenance.

The input is either a candidate-bag JSON file or a raw PDF. PDFs are
processed through Google Document AI and require:
  GOOGLE_CLOUD_PROJECT       - Google Cloud project ID
  DOCUMENT_AI_PROCESSOR_ID   - Document AI processor
  GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS`,
	Example: `  # Candidate-bag JSON
  docmatch extract --input invoice.json --role invoice

  # Raw PDF through Document AI
  docmatch extract --pdf invoice.pdf --role invoice --output extracted.json`,
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().String("input", "", "Candidate-bag JSON input file")
	extractCmd.Flags().String("pdf", "", "PDF input file (processed via Document AI)")
	extractCmd.Flags().String("role", "invoice", "Document role: purchase_order, invoice, or delivery_note")
	extractCmd.Flags().String("output", "", "Write the result JSON here instead of stdout")
	extractCmd.MarkFlagsMutuallyExclusive("input", "pdf")
	extractCmd.MarkFlagsOneRequired("input", "pdf")
}

func runExtract(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("extract")

	inputPath, _ := cmd.Flags().GetString("input")
	pdfPath, _ := cmd.Flags().GetString("pdf")
	roleStr, _ := cmd.Flags().GetString("role")
	outPath, _ := cmd.Flags().GetString("output")

	role, err := parseRole(roleStr)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx := context.Background()
	var in *models.DocumentInput
	switch {
	case inputPath != "":
		in, err = readDocumentInput(inputPath, role)
		if err != nil {
			return err
		}
	default:
		in, err = processPDF(ctx, pdfPath, role)
		if err != nil {
			return err
		}
	}

	log.Info().
		Str("document_id", in.DocumentID).
		Str("role", string(role)).
		Msg("Starting extraction")

	extractor := buildExtractor(cfg)
	data, err := extractor.Extract(ctx, *in)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	return writeJSON(outPath, data)
}

func processPDF(ctx context.Context, path string, role models.DocumentRole) (*models.DocumentInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	processor, err := docai.NewProcessor(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing Document AI: %w", err)
	}
	defer processor.Close()

	documentID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return processor.ProcessPDF(ctx, documentID, role, f)
}

func parseRole(s string) (models.DocumentRole, error) {
	switch models.DocumentRole(s) {
	case models.RolePurchaseOrder, models.RoleInvoice, models.RoleDeliveryNote:
		return models.DocumentRole(s), nil
	default:
		return "", fmt.Errorf("unknown role %q: must be purchase_order, invoice, or delivery_note", s)
	}
}
