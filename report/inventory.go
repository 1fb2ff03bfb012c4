// Package report exports product summaries as an Excel workbook.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/warp/stock-ledger/stock"
)

const (
	inventorySheet = "Inventory"
	aboutSheet     = "About"

	// ContentType is the MIME type of the workbook.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var inventoryHeaders = []string{
	"Product ID", "Name",
	"Total Purchase", "Total Sell", "Total Remaining",
	"Unit Purchase", "Unit Sell", "Unit Remaining",
	"Trash Box", "Trash Unit",
}

// ProductReader is the store surface the report reads.
type ProductReader interface {
	ListProductIDs(ctx context.Context) ([]stock.ProductID, error)
	GetProduct(ctx context.Context, id stock.ProductID) (*stock.Product, error)
}

type Inventory struct {
	products ProductReader
	now      func() time.Time
}

func NewInventory(products ProductReader) *Inventory {
	return &Inventory{products: products, now: func() time.Time { return time.Now().UTC() }}
}

// Summaries returns one summary per product in ID order. A nil window uses
// the cached aggregates.
func (r *Inventory) Summaries(ctx context.Context, w *stock.Window) ([]stock.Summary, error) {
	if w != nil {
		if err := w.Validate(); err != nil {
			return nil, err
		}
	}
	ids, err := r.products.ListProductIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]stock.Summary, 0, len(ids))
	for _, id := range ids {
		p, err := r.products.GetProduct(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load product %s: %w", id, err)
		}
		out = append(out, stock.Summarize(p, w))
	}
	return out, nil
}

// Workbook builds the inventory workbook. The caller closes the file.
func (r *Inventory) Workbook(ctx context.Context, w *stock.Window) (*excelize.File, error) {
	summaries, err := r.Summaries(ctx, w)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", inventorySheet); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeInventory(f, summaries); err != nil {
		f.Close()
		return nil, err
	}
	if err := r.writeAbout(f, w, len(summaries)); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// Write streams the workbook to out.
func (r *Inventory) Write(ctx context.Context, out io.Writer, w *stock.Window) error {
	f, err := r.Workbook(ctx, w)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(out)
}

func writeInventory(f *excelize.File, summaries []stock.Summary) error {
	if err := f.SetSheetRow(inventorySheet, "A1", &inventoryHeaders); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(inventoryHeaders), 1)
	if err := f.SetCellStyle(inventorySheet, "A1", last, bold); err != nil {
		return err
	}

	for i, s := range summaries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			string(s.ProductID), s.Name,
			s.TotalPurchase.InexactFloat64(), s.TotalSell.InexactFloat64(), s.TotalRemaining.InexactFloat64(),
			s.UnitPurchase.InexactFloat64(), s.UnitSell.InexactFloat64(), s.UnitRemaining.InexactFloat64(),
			s.TrashBox.InexactFloat64(), s.TrashUnit.InexactFloat64(),
		}
		if err := f.SetSheetRow(inventorySheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(inventorySheet, "A", "B", 24)
}

func (r *Inventory) writeAbout(f *excelize.File, w *stock.Window, products int) error {
	if _, err := f.NewSheet(aboutSheet); err != nil {
		return err
	}
	view := "cached"
	window := stock.All
	if w != nil {
		view = "windowed"
		window = *w
	}
	rows := [][]interface{}{
		{"Generated", r.now().Format(time.RFC3339)},
		{"View", view},
		{"Window", window.String()},
		{"Products", products},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(aboutSheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}
