package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// INVENTORY - Catalog entry, summaries, trash and manual adjustments
// =============================================================================

// Inventory serves the product-level operations that are not driven by a
// document: creating the record, reading it, and corrective writes.
type Inventory struct {
	store    TxStore
	locker   Locker
	recorder Recorder
	log      *zap.Logger
	now      func() time.Time
}

type InventoryOption func(*Inventory)

func WithInventoryRecorder(r Recorder) InventoryOption {
	return func(i *Inventory) { i.recorder = r }
}

func WithInventoryClock(now func() time.Time) InventoryOption {
	return func(i *Inventory) { i.now = now }
}

func NewInventory(store TxStore, locker Locker, log *zap.Logger, opts ...InventoryOption) *Inventory {
	inv := &Inventory{
		store:    store,
		locker:   locker,
		recorder: NopRecorder{},
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// ProductInput describes a new catalog entry.
type ProductInput struct {
	ID         ProductID
	Name       string
	CategoryID string
	VendorID   string
}

// CreateProduct creates a record with zero aggregates and empty history.
func (i *Inventory) CreateProduct(ctx context.Context, in ProductInput) (*Product, error) {
	if strings.TrimSpace(string(in.ID)) == "" {
		return nil, ErrMissingID
	}
	var created *Product
	err := WithProducts(ctx, i.locker, i.store, []ProductID{in.ID}, func(tx Store) error {
		if _, err := tx.GetProduct(ctx, in.ID); err == nil {
			return fmt.Errorf("%w: %s", ErrProductExists, in.ID)
		} else if !errors.Is(err, ErrProductNotFound) {
			return err
		}
		p := NewProduct(in.ID, in.Name)
		p.CategoryID = in.CategoryID
		p.VendorID = in.VendorID
		p.CreatedAt = i.now()
		p.UpdatedAt = p.CreatedAt
		if err := tx.SaveProduct(ctx, p); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	i.log.Info("product created", zap.String("product_id", string(in.ID)))
	return created, nil
}

func (i *Inventory) GetProduct(ctx context.Context, id ProductID) (*Product, error) {
	return i.store.GetProduct(ctx, id)
}

// Summary returns the cached view, or the windowed view when w is set.
func (i *Inventory) Summary(ctx context.Context, id ProductID, w *Window) (Summary, error) {
	if w != nil {
		if err := w.Validate(); err != nil {
			return Summary{}, err
		}
	}
	p, err := i.store.GetProduct(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(p, w), nil
}

// TrashInput is a shrink or spoilage write-off.
type TrashInput struct {
	Quantity decimal.Decimal
	UnitKind UnitKind
	Reason   string
	// Date defaults to now.
	Date time.Time
}

func (i *Inventory) RecordTrash(ctx context.Context, id ProductID, in TrashInput) (*Product, error) {
	date := in.Date
	if date.IsZero() {
		date = i.now()
	}
	return i.mutate(ctx, id, func(p *Product) (Effect, error) {
		return p.RecordTrash(in.Quantity, in.UnitKind, in.Reason, date)
	})
}

// SetManualAdjustment replaces the manual slot of kind for the product.
func (i *Inventory) SetManualAdjustment(ctx context.Context, id ProductID, kind UnitKind, qty decimal.Decimal, date time.Time) (*Product, error) {
	if date.IsZero() {
		date = i.now()
	}
	return i.mutate(ctx, id, func(p *Product) (Effect, error) {
		return p.SetManualAdjustment(kind, qty, date)
	})
}

func (i *Inventory) mutate(ctx context.Context, id ProductID, fn func(*Product) (Effect, error)) (*Product, error) {
	var out *Product
	err := WithProducts(ctx, i.locker, i.store, []ProductID{id}, func(tx Store) error {
		p, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		eff, err := fn(p)
		if err != nil {
			return err
		}
		if eff.Clamped {
			i.recorder.Clamped("inventory")
		}
		p.UpdatedAt = i.now()
		if err := tx.SaveProduct(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
