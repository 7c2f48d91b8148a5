package storage

import "sync"

// Overlay is a copy-on-write view over a base database. Writes and deletes
// accumulate in memory until Commit flushes them to the base in one pass, or
// Discard drops them. The settlement runtime executes every transaction group
// against an overlay so a rejected group leaves no trace in the base store.
type Overlay struct {
	mu      sync.RWMutex
	base    Database
	writes  map[string][]byte
	deletes map[string]struct{}
}

// NewOverlay creates an empty overlay on top of base.
func NewOverlay(base Database) *Overlay {
	return &Overlay{
		base:    base,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := string(key)
	delete(o.deletes, k)
	o.writes[k] = append([]byte(nil), value...)
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.RLock()
	k := string(key)
	if _, gone := o.deletes[k]; gone {
		o.mu.RUnlock()
		return nil, ErrKeyNotFound
	}
	if value, ok := o.writes[k]; ok {
		o.mu.RUnlock()
		return append([]byte(nil), value...), nil
	}
	o.mu.RUnlock()
	return o.base.Get(key)
}

func (o *Overlay) Has(key []byte) (bool, error) {
	o.mu.RLock()
	k := string(key)
	if _, gone := o.deletes[k]; gone {
		o.mu.RUnlock()
		return false, nil
	}
	if _, ok := o.writes[k]; ok {
		o.mu.RUnlock()
		return true, nil
	}
	o.mu.RUnlock()
	return o.base.Has(key)
}

func (o *Overlay) Delete(key []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
	return nil
}

// Close satisfies the Database interface. The base store stays open.
func (o *Overlay) Close() {}

// Commit flushes the accumulated writes and deletes to the base database and
// resets the overlay. Deletes are applied after writes so a key that was
// written then deleted within the same group ends up absent.
func (o *Overlay) Commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, v := range o.writes {
		if err := o.base.Put([]byte(k), v); err != nil {
			return err
		}
	}
	for k := range o.deletes {
		if err := o.base.Delete([]byte(k)); err != nil {
			return err
		}
	}
	o.writes = make(map[string][]byte)
	o.deletes = make(map[string]struct{})
	return nil
}

// Discard drops all pending changes.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes = make(map[string][]byte)
	o.deletes = make(map[string]struct{})
}
