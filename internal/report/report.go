// Package report exports the sync status of every account as a spreadsheet.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"bridgesync/internal/domain"
	"bridgesync/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Sync status"

var headers = []string{
	"Account", "Currency", "Family", "Block height", "Operations",
	"Pending operations", "Tokens", "Last sync", "Up to date", "Syncing", "Error kind", "Error",
}

// StateSource exposes the current sync state map.
type StateSource interface {
	States() map[string]models.SyncState
}

// Exporter renders accounts joined with their sync state.
type Exporter struct {
	accounts      domain.AccountSource
	states        StateSource
	dir           string
	outdatedDelay time.Duration
	now           func() time.Time
}

func NewExporter(accounts domain.AccountSource, states StateSource, dir string, outdatedDelay time.Duration) *Exporter {
	return &Exporter{
		accounts:      accounts,
		states:        states,
		dir:           dir,
		outdatedDelay: outdatedDelay,
		now:           time.Now,
	}
}

// Write streams the workbook to w.
func (e *Exporter) Write(ctx context.Context, w io.Writer) error {
	f, err := e.build(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Save writes the workbook into the export directory and returns its path.
func (e *Exporter) Save(ctx context.Context) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := e.build(ctx)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(e.dir, fmt.Sprintf("sync_status_%s.xlsx", e.now().Format("20060102_150405")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return path, nil
}

func (e *Exporter) build(ctx context.Context) (*excelize.File, error) {
	accounts, err := e.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing accounts: %w", err)
	}
	states := e.states.States()
	now := e.now()

	f := excelize.NewFile()
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, err
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	errorStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
	})

	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}
	_ = f.SetColWidth(sheetName, "A", "A", 25)
	_ = f.SetColWidth(sheetName, "B", "K", 16)
	_ = f.SetColWidth(sheetName, "L", "L", 50)

	for i, a := range accounts {
		row := i + 2
		state := states[a.ID]
		view := state.View()

		lastSync := ""
		if !a.LastSyncDate.IsZero() {
			lastSync = a.LastSyncDate.UTC().Format(time.RFC3339)
		}
		values := []any{
			a.ID,
			a.Currency.Name,
			a.Currency.Family,
			a.BlockHeight,
			a.OperationsCount,
			len(a.PendingOperations),
			len(a.SubAccounts),
			lastSync,
			yesNo(models.IsUpToDate(a, now, e.outdatedDelay)),
			yesNo(view.Pending),
			view.ErrorKind,
			view.Error,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
		if state.Error != nil {
			first, _ := excelize.CoordinatesToCellName(1, row)
			last, _ := excelize.CoordinatesToCellName(len(values), row)
			_ = f.SetCellStyle(sheetName, first, last, errorStyle)
		}
	}
	return f, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
