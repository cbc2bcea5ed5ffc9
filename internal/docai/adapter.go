// Package docai adapts Google Document AI output into the candidate-bag
// input the extraction pipeline consumes. It is the only package that talks
// to the OCR service; everything downstream works on DocumentInput and can
// be fed from JSON fixtures instead.
package docai

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"docmatch/internal/logger"
	"docmatch/pkg/models"
)

// MaxDocumentSizeBytes is the Document AI synchronous processing limit.
const MaxDocumentSizeBytes = 20 * 1024 * 1024

// Config identifies the Document AI processor to call.
type Config struct {
	ProjectID        string
	Location         string
	ProcessorID      string
	ProcessorVersion string
	Timeout          time.Duration
}

// Processor converts PDFs into DocumentInput via Google Document AI.
type Processor struct {
	client *documentai.DocumentProcessorClient
	config Config
	log    zerolog.Logger
}

// NewProcessor creates a processor configured from the environment.
// Requires GOOGLE_CLOUD_PROJECT and DOCUMENT_AI_PROCESSOR_ID; credentials
// come from GOOGLE_CREDENTIALS (inline JSON) or
// GOOGLE_APPLICATION_CREDENTIALS (file path). GOOGLE_CLOUD_LOCATION
// defaults to "us".
func NewProcessor(ctx context.Context) (*Processor, error) {
	const op = "NewProcessor"

	config := Config{
		ProjectID:   os.Getenv("GOOGLE_CLOUD_PROJECT"),
		Location:    os.Getenv("GOOGLE_CLOUD_LOCATION"),
		ProcessorID: os.Getenv("DOCUMENT_AI_PROCESSOR_ID"),
		Timeout:     30 * time.Second,
	}
	if config.ProjectID == "" {
		return nil, fmt.Errorf("%s: %w: GOOGLE_CLOUD_PROJECT is required", op, ErrInvalidConfig)
	}
	if config.ProcessorID == "" {
		return nil, fmt.Errorf("%s: %w: DOCUMENT_AI_PROCESSOR_ID is required", op, ErrInvalidConfig)
	}
	if config.Location == "" {
		config.Location = "us"
	}

	var clientOptions []option.ClientOption
	if config.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		clientOptions = append(clientOptions, option.WithCredentialsJSON([]byte(credJSON)))
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(credFile))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		if len(clientOptions) == 0 {
			return nil, fmt.Errorf("%s: %w", op, ErrMissingCredentials)
		}
		return nil, fmt.Errorf("%s: creating Document AI client for location %s: %w", op, config.Location, err)
	}

	return &Processor{
		client: client,
		config: config,
		log:    logger.WithComponent("docai"),
	}, nil
}

// NewProcessorWithClient creates a processor with an explicit configuration
// and client, for tests.
func NewProcessorWithClient(config Config, client *documentai.DocumentProcessorClient) *Processor {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &Processor{client: client, config: config, log: logger.WithComponent("docai")}
}

// Close releases the underlying client connection.
func (p *Processor) Close() error {
	return p.client.Close()
}

// ProcessPDF sends a PDF through Document AI and converts the response into
// a DocumentInput for the given role.
func (p *Processor) ProcessPDF(ctx context.Context, documentID string, role models.DocumentRole, pdf io.Reader) (*models.DocumentInput, error) {
	const op = "ProcessPDF"

	pdfBytes, err := io.ReadAll(pdf)
	if err != nil {
		return nil, wrapProcessing(op, documentID, err, "reading PDF data")
	}
	if len(pdfBytes) > MaxDocumentSizeBytes {
		return nil, wrapProcessing(op, documentID, ErrDocumentTooLarge, fmt.Sprintf("%d bytes", len(pdfBytes)))
	}
	if len(pdfBytes) < 4 || string(pdfBytes[:4]) != "%PDF" {
		return nil, wrapProcessing(op, documentID, ErrInvalidPDF, "missing PDF header")
	}

	processCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	resp, err := p.client.ProcessDocument(processCtx, &documentaipb.ProcessRequest{
		Name: p.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  pdfBytes,
				MimeType: "application/pdf",
			},
		},
	})
	if err != nil {
		return nil, p.classifyError(op, documentID, err)
	}
	if resp.Document == nil {
		return nil, wrapProcessing(op, documentID, ErrProcessingFailed, "no document in response")
	}

	in := Convert(resp.Document, documentID, role)
	p.log.Info().
		Str("document_id", documentID).
		Str("role", string(role)).
		Int("fields", len(in.Fields)).
		Int("tables", len(in.Tables)).
		Int("paragraphs", len(in.Paragraphs)).
		Msg("Document AI processing completed")
	return in, nil
}

func (p *Processor) processorName() string {
	if p.config.ProcessorVersion != "" {
		return fmt.Sprintf("projects/%s/locations/%s/processors/%s/processorVersions/%s",
			p.config.ProjectID, p.config.Location, p.config.ProcessorID, p.config.ProcessorVersion)
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		p.config.ProjectID, p.config.Location, p.config.ProcessorID)
}

func (p *Processor) classifyError(op, documentID string, err error) error {
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "QUOTA_EXCEEDED"):
		return wrapProcessing(op, documentID, ErrQuotaExceeded, "")
	case strings.Contains(errStr, "NOT_FOUND"):
		return wrapProcessing(op, documentID, ErrProcessorNotFound, p.config.ProcessorID)
	case strings.Contains(errStr, "INVALID_ARGUMENT"):
		return wrapProcessing(op, documentID, ErrInvalidPDF, "format not supported or corrupted")
	default:
		return wrapProcessing(op, documentID, ErrProcessingFailed, errStr)
	}
}

// entityKeys maps Document AI entity types onto the field keys the extractor
// looks for. Several processor schema variants map to the same key.
var entityKeys = map[string]string{
	"invoice_id":           "invoice_number",
	"invoice_number":       "invoice_number",
	"purchase_order":       "po_number",
	"po_number":            "po_number",
	"reference_number":     "po_number",
	"delivery_note_number": "delivery_note_number",
	"supplier_name":        "vendor_name",
	"vendor_name":          "vendor_name",
	"invoice_date":         "document_date",
	"order_date":           "document_date",
	"receipt_date":         "document_date",
	"due_date":             "due_date",
	"net_amount":           "subtotal",
	"subtotal_amount":      "subtotal",
	"subtotal":             "subtotal",
	"total_tax_amount":     "tax_amount",
	"vat_amount":           "tax_amount",
	"tax_amount":           "tax_amount",
	"tax_rate":             "tax_rate",
	"vat_rate":             "tax_rate",
	"total_amount":         "total_amount",
	"gross_amount":         "total_amount",
	"currency":             "currency_code",
}

// lineItemColumns orders the synthesized table columns for line_item entity
// properties.
var lineItemColumns = []string{
	"line_item/product_code",
	"line_item/description",
	"line_item/quantity",
	"line_item/unit_price",
	"line_item/amount",
}

var lineItemHeader = []string{"Item", "Description", "Qty", "Unit Price", "Amount"}

// Convert maps a Document AI document onto the candidate-bag input:
// entities become field candidates, line_item entities become a synthesized
// table, page tables become cell grids, and page paragraphs become free
// text. Exported so fixtures recorded from real responses can be replayed
// in tests.
func Convert(doc *documentaipb.Document, documentID string, role models.DocumentRole) *models.DocumentInput {
	in := &models.DocumentInput{
		DocumentID: documentID,
		Role:       role,
	}

	itemTable := models.Table{Rows: [][]string{lineItemHeader}}
	for _, entity := range doc.Entities {
		if entity.Type == "line_item" {
			if row := lineItemRow(entity); row != nil {
				itemTable.Rows = append(itemTable.Rows, row)
			}
			continue
		}
		key, ok := entityKeys[entity.Type]
		if !ok {
			continue
		}
		in.Fields = append(in.Fields, models.FieldCandidate{
			Key:         key,
			Value:       strings.TrimSpace(entity.MentionText),
			Confidence:  float64(entity.Confidence),
			Page:        entityPage(entity),
			BoundingBox: entityBox(entity),
		})
	}
	if len(itemTable.Rows) > 1 {
		in.Tables = append(in.Tables, itemTable)
	}

	for _, page := range doc.Pages {
		for _, table := range page.Tables {
			if t := convertTable(doc.Text, table); len(t.Rows) > 0 {
				in.Tables = append(in.Tables, t)
			}
		}
		for _, para := range page.Paragraphs {
			if para.Layout == nil {
				continue
			}
			if text := strings.TrimSpace(anchorText(doc.Text, para.Layout.TextAnchor)); text != "" {
				in.Paragraphs = append(in.Paragraphs, text)
			}
		}
	}

	return in
}

// lineItemRow flattens a line_item entity's properties into a table row in
// lineItemColumns order. Rows with no properties at all are dropped.
func lineItemRow(entity *documentaipb.Document_Entity) []string {
	values := make(map[string]string, len(entity.Properties))
	for _, prop := range entity.Properties {
		values[prop.Type] = strings.TrimSpace(prop.MentionText)
	}
	if len(values) == 0 {
		return nil
	}
	row := make([]string, len(lineItemColumns))
	for i, col := range lineItemColumns {
		row[i] = values[col]
	}
	return row
}

func convertTable(fullText string, table *documentaipb.Document_Page_Table) models.Table {
	var out models.Table
	appendRows := func(rows []*documentaipb.Document_Page_Table_TableRow) {
		for _, row := range rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				if cell.Layout == nil {
					cells = append(cells, "")
					continue
				}
				cells = append(cells, strings.TrimSpace(anchorText(fullText, cell.Layout.TextAnchor)))
			}
			out.Rows = append(out.Rows, cells)
		}
	}
	appendRows(table.HeaderRows)
	appendRows(table.BodyRows)
	return out
}

// anchorText resolves a text anchor's segments against the document's full
// text.
func anchorText(fullText string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil {
		return ""
	}
	var sb strings.Builder
	for _, seg := range anchor.TextSegments {
		start, end := int(seg.StartIndex), int(seg.EndIndex)
		if start < 0 || end > len(fullText) || start >= end {
			continue
		}
		sb.WriteString(fullText[start:end])
	}
	return sb.String()
}

func entityPage(entity *documentaipb.Document_Entity) int {
	if entity.PageAnchor == nil || len(entity.PageAnchor.PageRefs) == 0 {
		return 0
	}
	return int(entity.PageAnchor.PageRefs[0].Page)
}

func entityBox(entity *documentaipb.Document_Entity) *models.BoundingBox {
	if entity.PageAnchor == nil || len(entity.PageAnchor.PageRefs) == 0 {
		return nil
	}
	poly := entity.PageAnchor.PageRefs[0].BoundingPoly
	if poly == nil || len(poly.NormalizedVertices) == 0 {
		return nil
	}
	box := &models.BoundingBox{
		X0: float64(poly.NormalizedVertices[0].X),
		Y0: float64(poly.NormalizedVertices[0].Y),
		X1: float64(poly.NormalizedVertices[0].X),
		Y1: float64(poly.NormalizedVertices[0].Y),
	}
	for _, v := range poly.NormalizedVertices[1:] {
		x, y := float64(v.X), float64(v.Y)
		if x < box.X0 {
			box.X0 = x
		}
		if y < box.Y0 {
			box.Y0 = y
		}
		if x > box.X1 {
			box.X1 = x
		}
		if y > box.Y1 {
			box.Y1 = y
		}
	}
	return box
}
