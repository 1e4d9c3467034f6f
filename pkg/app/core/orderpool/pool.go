// Package orderpool holds signed orders waiting for a filler.
package orderpool

import (
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/oplimit/pkg/app/core"
)

// Bucket orders pool entries for selection.
type Bucket int

const (
	BucketStopLoss Bucket = iota
	BucketClose
	BucketOpen
)

var ErrPoolFull = errors.New("order pool is full")

// Entry is one signed order. Exactly one of Open and Close is set.
type Entry struct {
	ID        common.Hash
	Open      *core.OpenOrder
	Close     *core.CloseOrder
	Signature []byte
	Added     time.Time
}

func (e *Entry) Kind() core.OrderKind {
	if e.Close != nil {
		return core.KindClose
	}
	return core.KindOpen
}

// Common returns the shared order fields.
func (e *Entry) Common() *core.Order {
	if e.Close != nil {
		return &e.Close.Order
	}
	return &e.Open.Order
}

// Classify places risk-reducing orders first: stop-losses, then other
// closes, then opens.
func Classify(e *Entry) Bucket {
	switch {
	case e.Close != nil && e.Close.IsStopLoss:
		return BucketStopLoss
	case e.Close != nil:
		return BucketClose
	default:
		return BucketOpen
	}
}

// Pool keeps one FIFO queue per bucket and dedups by order identity.
type Pool struct {
	mu      sync.Mutex
	max     int
	entries map[common.Hash]*Entry
	queues  [3][]common.Hash
}

// New creates a pool holding at most max entries; max <= 0 means unbounded.
func New(max int) *Pool {
	return &Pool{max: max, entries: make(map[common.Hash]*Entry)}
}

// Add enqueues e. It returns false if the identity is already pooled.
func (p *Pool) Add(e Entry) (bool, error) {
	if (e.Open == nil) == (e.Close == nil) {
		return false, errors.New("entry must carry exactly one order")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[e.ID]; ok {
		return false, nil
	}
	if p.max > 0 && len(p.entries) >= p.max {
		return false, ErrPoolFull
	}
	cp := e
	cp.Signature = append([]byte(nil), e.Signature...)
	p.entries[e.ID] = &cp
	b := Classify(&cp)
	p.queues[b] = append(p.queues[b], e.ID)
	return true, nil
}

// Remove drops an entry. Its queue slot is skipped lazily.
func (p *Pool) Remove(id common.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[id]; !ok {
		return false
	}
	delete(p.entries, id)
	return true
}

func (p *Pool) Get(id common.Hash) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Select returns up to limit entries in bucket order, FIFO within each
// bucket, without removing them. limit <= 0 returns everything.
func (p *Pool) Select(limit int) []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Entry
	for b := range p.queues {
		q := p.queues[b]
		kept := q[:0]
		for _, id := range q {
			e, ok := p.entries[id]
			if !ok {
				continue
			}
			kept = append(kept, id)
			if limit <= 0 || len(out) < limit {
				out = append(out, *e)
			}
		}
		p.queues[b] = kept
	}
	return out
}

// Len returns total pending orders.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
