package fragment

import (
	"strings"
	"sync"
	"time"

	"otrkit/internal/domain/types"
)

type partial struct {
	total   int
	pieces  map[int]string
	updated time.Time
}

// Reassembler buffers fragments per conversation until a message is
// complete. Fragments of different conversations may interleave freely.
// It is safe for concurrent use.
type Reassembler struct {
	mu        sync.Mutex
	retention time.Duration
	now       func() time.Time
	sets      map[types.ConversationKey]*partial
}

// NewReassembler returns a Reassembler. A zero retention keeps incomplete
// messages until they complete or are superseded.
func NewReassembler(retention time.Duration) *Reassembler {
	return &Reassembler{
		retention: retention,
		now:       time.Now,
		sets:      make(map[types.ConversationKey]*partial),
	}
}

// SetClock replaces the time source.
func (r *Reassembler) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// Add stores f and returns the whole message once every index of its set has
// arrived. A first fragment whose total disagrees with the buffered set
// replaces it; any other fragment with a disagreeing total is ignored. A
// fragment repeating an index already held starts a new set.
func (r *Reassembler) Add(key types.ConversationKey, f Fragment) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.expireLocked(now)

	p, ok := r.sets[key]
	switch {
	case !ok:
		p = &partial{total: f.Total, pieces: make(map[int]string, f.Total)}
		r.sets[key] = p
	case p.total != f.Total && f.Index == 1:
		p = &partial{total: f.Total, pieces: make(map[int]string, f.Total)}
		r.sets[key] = p
	case p.total != f.Total:
		return "", false
	default:
		if _, dup := p.pieces[f.Index]; dup {
			p = &partial{total: f.Total, pieces: make(map[int]string, f.Total)}
			r.sets[key] = p
		}
	}
	p.pieces[f.Index] = f.Piece
	p.updated = now

	if len(p.pieces) < p.total {
		return "", false
	}
	delete(r.sets, key)
	var b strings.Builder
	for i := 1; i <= p.total; i++ {
		b.WriteString(p.pieces[i])
	}
	return b.String(), true
}

// Pending reports whether an incomplete message is buffered for key.
func (r *Reassembler) Pending(key types.ConversationKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sets[key]
	return ok
}

// Drop discards whatever is buffered for key.
func (r *Reassembler) Drop(key types.ConversationKey) {
	r.mu.Lock()
	delete(r.sets, key)
	r.mu.Unlock()
}

func (r *Reassembler) expireLocked(now time.Time) {
	if r.retention <= 0 {
		return
	}
	for k, p := range r.sets {
		if now.Sub(p.updated) > r.retention {
			delete(r.sets, k)
		}
	}
}
