package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"scrapeq/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	itemsSheet  = "Items"
	failedSheet = "Failed tasks"
)

// Source provides the rows of an export. database.DB implements it.
type Source interface {
	ListItems(ctx context.Context) ([]models.ScrapedItem, error)
	GetFailedTasks(ctx context.Context) ([]models.TaskRecord, error)
}

// Exporter writes scraped items and failed tasks to an XLSX workbook.
type Exporter struct {
	source Source
	dir    string
	logger *zerolog.Logger
	now    func() time.Time
}

func NewExporter(source Source, dir string, logger *zerolog.Logger) *Exporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Exporter{source: source, dir: dir, logger: logger, now: time.Now}
}

// Export creates a workbook in the export directory and returns its path.
func (e *Exporter) Export(ctx context.Context) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	items, err := e.source.ListItems(ctx)
	if err != nil {
		return "", fmt.Errorf("error getting items: %w", err)
	}
	failed, err := e.source.GetFailedTasks(ctx)
	if err != nil {
		return "", fmt.Errorf("error getting failed tasks: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(itemsSheet)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if _, err := f.NewSheet(failedSheet); err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return "", fmt.Errorf("error creating style: %w", err)
	}

	writeRows(f, itemsSheet, headerStyle, []string{"ID", "Title", "URL", "Source", "Scraped at"}, len(items), func(i int) []interface{} {
		item := items[i]
		return []interface{}{item.ID, item.Title, item.URL, item.Source, item.ScrapedAt.Format(time.RFC3339)}
	})
	_ = f.SetColWidth(itemsSheet, "A", "A", 8)
	_ = f.SetColWidth(itemsSheet, "B", "B", 40)
	_ = f.SetColWidth(itemsSheet, "C", "D", 50)
	_ = f.SetColWidth(itemsSheet, "E", "E", 22)

	writeRows(f, failedSheet, headerStyle, []string{"ID", "Kind", "Payload", "Retries", "Last error"}, len(failed), func(i int) []interface{} {
		task := failed[i]
		lastError := ""
		if task.LastError != nil {
			lastError = *task.LastError
		}
		return []interface{}{task.ID, task.TaskType, task.Payload, task.RetryCount, lastError}
	})
	_ = f.SetColWidth(failedSheet, "A", "B", 10)
	_ = f.SetColWidth(failedSheet, "C", "C", 60)
	_ = f.SetColWidth(failedSheet, "E", "E", 60)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("scrapeq_%s.xlsx", e.now().UTC().Format("20060102_150405"))
	filePath := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("items", len(items)).Int("failed", len(failed)).Msg("Excel file created")
	return filePath, nil
}

func writeRows(f *excelize.File, sheet string, headerStyle int, header []string, n int, row func(int) []interface{}) {
	for col, title := range header {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(sheet, cell, title)
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	_ = f.SetCellStyle(sheet, "A1", last, headerStyle)

	for i := 0; i < n; i++ {
		for col, value := range row(i) {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheet, cell, value)
		}
	}
}
