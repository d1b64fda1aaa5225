// Package notify holds the user-facing notification feed.
package notify

import (
	"context"
	"sync"

	pkgzerolog "github.com/duynhne/pkg/logger/zerolog"

	"github.com/duynhne/storefront-sync/internal/core/domain"
)

// DefaultCapacity is the number of undrained notices a Feed keeps.
const DefaultCapacity = 50

// Feed is a bounded in-memory Notifier. The UI drains it; when nobody does,
// the oldest notices are overwritten.
type Feed struct {
	mu      sync.Mutex
	notices []domain.Notice
	start   int
	size    int
}

// NewFeed returns a Feed holding at most capacity notices.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{notices: make([]domain.Notice, capacity)}
}

// Notify records n and logs it with the request-scoped logger.
func (f *Feed) Notify(ctx context.Context, n domain.Notice) {
	zlog := pkgzerolog.FromContext(ctx)
	zlog.Info().
		Str("kind", string(n.Kind)).
		Str("redirect", n.Redirect).
		Msg(n.Message)

	f.mu.Lock()
	defer f.mu.Unlock()

	end := (f.start + f.size) % len(f.notices)
	f.notices[end] = n
	if f.size < len(f.notices) {
		f.size++
	} else {
		f.start = (f.start + 1) % len(f.notices)
	}
}

// Drain returns pending notices oldest first and empties the feed.
func (f *Feed) Drain() []domain.Notice {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.Notice, f.size)
	for i := range f.size {
		out[i] = f.notices[(f.start+i)%len(f.notices)]
	}
	f.start, f.size = 0, 0
	return out
}

// Len reports the number of pending notices.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}
