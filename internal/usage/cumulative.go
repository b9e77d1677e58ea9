package usage

import (
	"context"
	"sync"
)

// Cumulative turns a source reporting running totals into one reporting
// per-reading consumption. The first reading only sets the baseline. A total
// that goes down is treated as a counter reset.
type Cumulative struct {
	src  Source
	mu   sync.Mutex
	last *Usage
}

// NewCumulative wraps src.
func NewCumulative(src Source) *Cumulative {
	return &Cumulative{src: src}
}

// Fetch implements Source.
func (c *Cumulative) Fetch(ctx context.Context) (Usage, error) {
	cur, err := c.src.Fetch(ctx)
	if err != nil {
		return Usage{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := Usage{AvgResponseTime: cur.AvgResponseTime, ActiveUsers: cur.ActiveUsers}
	if c.last != nil {
		out.TokensUsed = delta(c.last.TokensUsed, cur.TokensUsed)
		out.RequestsMade = delta(c.last.RequestsMade, cur.RequestsMade)
		out.ErrorCount = delta(c.last.ErrorCount, cur.ErrorCount)
	}
	c.last = &cur
	return out, nil
}

func delta(prev, cur int64) int64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}
