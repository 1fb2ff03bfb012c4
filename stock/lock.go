package stock

import (
	"context"
	"sort"
)

// Locker serializes writers of the same Product Record.
//
// Lock blocks until every key is held or ctx is done. Keys are acquired in
// sorted order so two callers asking for overlapping sets cannot deadlock.
// The returned release func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (release func(), err error)
}

// ProductLockKey is the lock key guarding one product.
func ProductLockKey(id ProductID) string { return "stock:product:" + string(id) }

// ProductLockKeys returns the sorted, de-duplicated lock keys for ids.
func ProductLockKeys(ids ...ProductID) []string {
	seen := make(map[string]bool, len(ids))
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		k := ProductLockKey(id)
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WithProducts runs fn inside one transaction while holding the locks of ids.
func WithProducts(ctx context.Context, locker Locker, st TxStore, ids []ProductID, fn func(Store) error) error {
	release, err := locker.Lock(ctx, ProductLockKeys(ids...)...)
	if err != nil {
		return err
	}
	defer release()
	return st.WithTx(ctx, fn)
}
