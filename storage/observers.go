package storage

import (
	"slices"
	"sync"

	"github.com/poiesic/policyrag/core"
)

// Observers fans committed mutations out to registered observers.
// The zero value is ready to use.
type Observers struct {
	mu   sync.RWMutex
	list []Observer
}

// Subscribe registers an observer for all future mutations.
func (o *Observers) Subscribe(observer Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.list = append(o.list, observer)
}

// NotifyUpsert hands each observer its own copy of doc.
func (o *Observers) NotifyUpsert(doc *core.PolicyDocument) {
	o.mu.RLock()
	observers := slices.Clone(o.list)
	o.mu.RUnlock()
	for _, obs := range observers {
		obs.OnUpsert(doc.Clone())
	}
}

// NotifyDelete reports a retired document.
func (o *Observers) NotifyDelete(id core.ID) {
	o.mu.RLock()
	observers := slices.Clone(o.list)
	o.mu.RUnlock()
	for _, obs := range observers {
		obs.OnDelete(id)
	}
}
