package monitor

import (
	"context"
)

// Controller ties the process-wide monitor to application startup and shutdown.
type Controller struct {
	mon *Monitor
}

func NewController(mon *Monitor) *Controller {
	return &Controller{mon: mon}
}

// OnStartup starts the monitor. A failure leaves the service serving without
// background replenishment, so it is reported but not fatal.
func (c *Controller) OnStartup(ctx context.Context) error {
	return c.mon.Start(ctx)
}

func (c *Controller) OnShutdown() {
	c.mon.Stop()
}

func (c *Controller) Monitor() *Monitor {
	return c.mon
}
