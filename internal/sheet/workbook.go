// internal/sheet/workbook.go
package sheet

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewatch/internal/config"
	"github.com/xkilldash9x/gatewatch/internal/results"
)

const (
	dateTimeColumn = "date_time"
	dateTimeLayout = "2006-01-02 15:04:05"
	notTested      = "-"
	defaultSheet   = "Sheet1"
)

// Workbook appends run rows to the daily spreadsheet, one sheet per site.
type Workbook struct {
	dir          string
	prefix       string
	lockPoll     time.Duration
	saveAttempts int
	logger       *zap.Logger
}

func NewWorkbook(cfg config.SheetConfig, logger *zap.Logger) *Workbook {
	attempts := cfg.SaveAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &Workbook{
		dir:          cfg.Dir,
		prefix:       cfg.FilePrefix,
		lockPoll:     cfg.LockPoll,
		saveAttempts: attempts,
		logger:       logger.Named("sheet"),
	}
}

// Path is the workbook file for the day of at, in at's location.
func (w *Workbook) Path(at time.Time) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s%s.xlsx", w.prefix, at.Format("2006-01-02")))
}

// Row is the cell values of one run keyed by column. Failed and unknown
// combinations are 1, succeeded ones 0. When several combinations share a
// column the worst outcome wins.
func Row(sum results.Summary) (columns []string, values map[string]int) {
	values = make(map[string]int)
	add := func(recs []results.Record, v int) {
		for _, r := range recs {
			col := r.Combination.Column()
			old, seen := values[col]
			if !seen {
				columns = append(columns, col)
			}
			if !seen || v > old {
				values[col] = v
			}
		}
	}
	add(sum.Succeeded, 0)
	add(sum.Failed, 1)
	add(sum.Unknown, 1)
	return columns, values
}

// Append adds one row for the run at at to the site's sheet. Columns the
// sheet has not seen before are appended to the header and earlier rows get
// "-" for them. A summary without records writes nothing.
func (w *Workbook) Append(ctx context.Context, sheet string, at time.Time, sum results.Summary) error {
	columns, values := Row(sum)
	if len(columns) == 0 {
		w.logger.Info("No records, nothing to write.", zap.String("sheet", sheet))
		return nil
	}

	path := w.Path(at)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create sheet directory: %w", err)
	}

	release, err := NewFileLock(path+".lock", w.lockPoll, w.logger).Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	f, err := w.open(path, sheet)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}

	var header []string
	if len(rows) > 0 {
		header = rows[0]
	}
	if len(header) == 0 {
		header = []string{dateTimeColumn}
	}
	known := make(map[string]bool, len(header))
	for _, h := range header {
		known[h] = true
	}
	var added []string
	for _, c := range columns {
		if !known[c] {
			header = append(header, c)
			added = append(added, c)
		}
	}

	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// Back-fill every earlier row out to the new header width.
	for r := 1; r < len(rows); r++ {
		for c := 0; c < len(header); c++ {
			if c < len(rows[r]) && rows[r][c] != "" {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			if err := f.SetCellValue(sheet, cell, notTested); err != nil {
				return fmt.Errorf("failed to back-fill %s: %w", cell, err)
			}
		}
	}

	row := make([]any, len(header))
	row[0] = at.Format(dateTimeLayout)
	for i := 1; i < len(header); i++ {
		if v, ok := values[header[i]]; ok {
			row[i] = v
		} else {
			row[i] = notTested
		}
	}
	start := len(rows) + 1
	if start < 2 {
		start = 2
	}
	cell, _ := excelize.CoordinatesToCellName(1, start)
	if err := f.SetSheetRow(sheet, cell, &row); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}

	if err := w.save(ctx, f, path); err != nil {
		return err
	}
	w.logger.Info("Run appended to spreadsheet.",
		zap.String("file", path),
		zap.String("sheet", sheet),
		zap.Int("row", start),
		zap.Strings("new_columns", added),
	)
	return nil
}

// open loads the workbook, creating it and the site's sheet as needed.
func (w *Workbook) open(path, sheet string) (*excelize.File, error) {
	f, err := excelize.OpenFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		w.logger.Info("Starting new daily workbook.", zap.String("file", path))
		f = excelize.NewFile()
		if err := f.SetSheetName(defaultSheet, sheet); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to name sheet %s: %w", sheet, err)
		}
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}

	idx, err := f.GetSheetIndex(sheet)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to look up sheet %s: %w", sheet, err)
	}
	if idx < 0 {
		w.logger.Info("Sheet not found in workbook, adding it.", zap.String("file", path), zap.String("sheet", sheet))
		if _, err := f.NewSheet(sheet); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to add sheet %s: %w", sheet, err)
		}
	}
	return f, nil
}

func (w *Workbook) save(ctx context.Context, f *excelize.File, path string) error {
	attempt := 0
	operation := func() error {
		attempt++
		return f.SaveAs(path)
	}
	notify := func(err error, next time.Duration) {
		w.logger.Warn("Failed to save workbook, retrying.", zap.Int("attempt", attempt), zap.Duration("backoff", next), zap.Error(err))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(w.lockPoll), uint64(w.saveAttempts-1)), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to save workbook %s after %d attempts: %w", path, attempt, err)
	}
	return nil
}
