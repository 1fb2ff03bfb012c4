package stock

import (
	"context"
	"errors"
	"sort"
	"time"
)

// SkippedLine reports a document line that had no stock effect.
type SkippedLine struct {
	LineID    LineID    `json:"line_id"`
	ProductID ProductID `json:"product_id"`
	Reason    string    `json:"reason"`
}

// ProductSet loads each product at most once inside a transaction and saves
// the ones that were changed. Several lines of one document touching the
// same product then see each other's effects.
type ProductSet struct {
	tx      Store
	loaded  map[ProductID]*Product
	missing map[ProductID]bool
	dirty   map[ProductID]bool
}

func NewProductSet(tx Store) *ProductSet {
	return &ProductSet{
		tx:      tx,
		loaded:  make(map[ProductID]*Product),
		missing: make(map[ProductID]bool),
		dirty:   make(map[ProductID]bool),
	}
}

// Get returns the product, or ErrProductNotFound.
func (s *ProductSet) Get(ctx context.Context, id ProductID) (*Product, error) {
	if p, ok := s.loaded[id]; ok {
		return p, nil
	}
	if s.missing[id] {
		return nil, ErrProductNotFound
	}
	p, err := s.tx.GetProduct(ctx, id)
	if errors.Is(err, ErrProductNotFound) {
		s.missing[id] = true
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	s.loaded[id] = p
	return p, nil
}

// Touch marks a loaded product as changed.
func (s *ProductSet) Touch(id ProductID) { s.dirty[id] = true }

// Save writes every touched product in ID order.
func (s *ProductSet) Save(ctx context.Context, now time.Time) error {
	ids := make([]ProductID, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		p := s.loaded[id]
		p.UpdatedAt = now
		if err := s.tx.SaveProduct(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
