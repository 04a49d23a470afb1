package rewards

import (
	"math/rand/v2"
	"sync"
	"time"
)

// lockedRand serializes draws so one source can serve concurrent
// handlers. math/rand/v2 sources are not goroutine-safe.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewLockedRand returns a time-seeded, goroutine-safe Rand.
func NewLockedRand() Rand {
	return &lockedRand{
		r: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
	}
}

func (l *lockedRand) Int64N(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int64N(n)
}
