package node

import (
	"go.uber.org/atomic"
)

// Context is the process-wide state shared by the reactor, the slots and the
// workers: the live connection count and the multiplexer used to rearm slots.
type Context struct {
	Poller  Multiplexer
	Metrics *Metrics

	userCount atomic.Int64
}

func NewContext(poller Multiplexer, metrics *Metrics) *Context {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Context{
		Poller:  poller,
		Metrics: metrics,
	}
}

// UserCount returns the number of live connections.
func (c *Context) UserCount() int64 {
	return c.userCount.Load()
}

func (c *Context) incrUsers() int64 {
	n := c.userCount.Inc()
	c.Metrics.ConnectionsActive.Set(float64(n))
	return n
}

func (c *Context) decrUsers() int64 {
	n := c.userCount.Dec()
	c.Metrics.ConnectionsActive.Set(float64(n))
	return n
}
