package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"transfit/internal/domain"
	"transfit/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	sheetStatus      = "Status"
	sheetQueue       = "Retry queue"
	sheetDeadLetters = "Dead letters"

	timeLayout = "2006-01-02 15:04:05"
)

// QueueReader is the read side of the retry queue.
type QueueReader interface {
	Load(ctx context.Context) []models.RetryQueueItem
}

// Exporter snapshots the engine state into a timestamped workbook under dir.
type Exporter struct {
	engine      domain.SyncEngine
	queue       QueueReader
	deadLetters domain.DeadLetterStore
	dir         string
	limit       int
	logger      *zerolog.Logger
	now         func() time.Time
}

func NewExporter(
	engine domain.SyncEngine,
	queue QueueReader,
	deadLetters domain.DeadLetterStore,
	dir string,
	limit int,
	logger *zerolog.Logger,
) *Exporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Exporter{
		engine:      engine,
		queue:       queue,
		deadLetters: deadLetters,
		dir:         dir,
		limit:       limit,
		logger:      logger,
		now:         time.Now,
	}
}

// Export writes the report and returns its path.
func (e *Exporter) Export(ctx context.Context) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	letters, err := e.deadLetters.ListDeadLetters(ctx, e.limit)
	if err != nil {
		return "", fmt.Errorf("list dead letters: %w", err)
	}

	fileName := fmt.Sprintf("sync_report_%s.xlsx", e.now().Format("2006-01-02_15-04-05"))
	path := filepath.Join(e.dir, fileName)
	if err := ExportSyncReport(path, e.engine.Status(), e.queue.Load(ctx), letters); err != nil {
		return "", err
	}

	e.logger.Info().Str("file_path", path).Int("dead_letters", len(letters)).Msg("Sync report created")
	return path, nil
}

// ExportSyncReport writes status, the pending retry queue and dropped items to an xlsx file.
func ExportSyncReport(path string, status models.SyncStatus, queue []models.RetryQueueItem, deadLetters []models.DeadLetter) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetStatus)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	header, err := headerStyle(f)
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	writeStatus(f, header, status)

	if _, err := f.NewSheet(sheetQueue); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	writeQueue(f, header, queue)

	if _, err := f.NewSheet(sheetDeadLetters); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	writeDeadLetters(f, header, deadLetters)

	_ = f.DeleteSheet("Sheet1")

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func headerStyle(f *excelize.File) (int, error) {
	return f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
}

func writeHeaders(f *excelize.File, sheet string, style int, headers []string) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheet, "A1", last, style)
}

func writeStatus(f *excelize.File, header int, status models.SyncStatus) {
	writeHeaders(f, sheetStatus, header, []string{"Field", "Value"})

	rows := [][2]any{
		{"Syncing", status.IsSyncing},
		{"Last attempt", formatTime(status.LastSyncAttempt)},
		{"Pending", status.PendingSyncCount},
		{"Consecutive failures", status.ConsecutiveFailures},
		{"Next retry", formatTime(status.NextRetryAt)},
	}
	for i, errMsg := range status.Errors {
		rows = append(rows, [2]any{fmt.Sprintf("Error %d", i+1), errMsg})
	}

	for i, r := range rows {
		row := i + 2
		_ = f.SetCellValue(sheetStatus, fmt.Sprintf("A%d", row), r[0])
		_ = f.SetCellValue(sheetStatus, fmt.Sprintf("B%d", row), r[1])
	}
	_ = f.SetColWidth(sheetStatus, "A", "A", 24)
	_ = f.SetColWidth(sheetStatus, "B", "B", 60)
}

func writeQueue(f *excelize.File, header int, queue []models.RetryQueueItem) {
	writeHeaders(f, sheetQueue, header, []string{"Entity", "ID", "Retry count", "Added at"})
	for i, item := range queue {
		row := i + 2
		_ = f.SetCellValue(sheetQueue, fmt.Sprintf("A%d", row), string(item.EntityType))
		_ = f.SetCellValue(sheetQueue, fmt.Sprintf("B%d", row), item.ID)
		_ = f.SetCellValue(sheetQueue, fmt.Sprintf("C%d", row), item.RetryCount)
		_ = f.SetCellValue(sheetQueue, fmt.Sprintf("D%d", row), item.AddedAt.Format(timeLayout))
	}
	_ = f.SetColWidth(sheetQueue, "A", "A", 12)
	_ = f.SetColWidth(sheetQueue, "B", "B", 40)
	_ = f.SetColWidth(sheetQueue, "C", "D", 20)
}

func writeDeadLetters(f *excelize.File, header int, letters []models.DeadLetter) {
	writeHeaders(f, sheetDeadLetters, header, []string{"Entity", "ID", "Retry count", "Added at", "Dropped at", "Payload"})
	for i, d := range letters {
		row := i + 2
		_ = f.SetCellValue(sheetDeadLetters, fmt.Sprintf("A%d", row), string(d.EntityType))
		_ = f.SetCellValue(sheetDeadLetters, fmt.Sprintf("B%d", row), d.EntityID)
		_ = f.SetCellValue(sheetDeadLetters, fmt.Sprintf("C%d", row), d.RetryCount)
		_ = f.SetCellValue(sheetDeadLetters, fmt.Sprintf("D%d", row), d.AddedAt.Format(timeLayout))
		_ = f.SetCellValue(sheetDeadLetters, fmt.Sprintf("E%d", row), d.DroppedAt.Format(timeLayout))
		_ = f.SetCellValue(sheetDeadLetters, fmt.Sprintf("F%d", row), d.Payload)
	}
	_ = f.SetColWidth(sheetDeadLetters, "A", "A", 12)
	_ = f.SetColWidth(sheetDeadLetters, "B", "B", 40)
	_ = f.SetColWidth(sheetDeadLetters, "C", "E", 20)
	_ = f.SetColWidth(sheetDeadLetters, "F", "F", 80)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(timeLayout)
}
