package decoders

// StartToothLogger enables the tooth logger. The primary and secondary
// inputs are re-attached on both edges and the configured edge is checked
// against the pin level before the decoder runs.
func (c *Context) StartToothLogger() error {
	c.guard.Run(func() {
		c.Engine.ToothLogEnabled = true
		c.Log.Clear()
	})
	return c.reattach()
}

// StopToothLogger disables the tooth logger and restores the decoder's own
// edges.
func (c *Context) StopToothLogger() error {
	c.guard.Run(func() {
		c.Engine.ToothLogEnabled = false
		c.Log.Clear()
	})
	return c.reattach()
}

// DrainToothLog returns the logged primary gaps oldest first.
func (c *Context) DrainToothLog() []uint32 {
	c.guard.Disable()
	defer c.guard.Enable()
	return c.Log.Drain()
}

func (c *Context) reattach() error {
	if c.inputs == nil {
		return nil
	}
	errs := c.detachAll()
	errs = append(errs, c.attachAll()...)
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// loggerInterrupt wraps a trigger so that it fires on both edges and only
// passes the configured one through to the decoder.
func (c *Context) loggerInterrupt(i Interrupt, pin int, primary bool) Interrupt {
	if !i.Valid() {
		return i
	}
	edge := i.Edge
	handler := i.Callback
	if primary {
		return Interrupt{Edge: EdgeChange, Callback: func(now uint32) {
			c.loggerPrimary(handler, edge, pin, now)
		}}
	}
	return Interrupt{Edge: EdgeChange, Callback: func(now uint32) {
		c.loggerSecondary(handler, edge, pin, now)
	}}
}

func (c *Context) edgeMatches(edge Edge, pin int) bool {
	if edge == EdgeChange {
		return true
	}
	return edge.Matches(c.readPin(pin))
}

func (c *Context) readPin(pin int) bool {
	if c.inputs == nil {
		return false
	}
	return c.inputs.Read(pin)
}

// LoggerPrimaryISR runs the primary handler when the edge matches and logs
// the tooth gap of valid triggers.
func (c *Context) LoggerPrimaryISR(now uint32) {
	c.loggerPrimary(c.decoder.Primary.Callback, c.decoder.Primary.Edge, c.pins.Primary, now)
}

// LoggerSecondaryISR runs the secondary handler when the edge matches.
// Secondary teeth are not logged.
func (c *Context) LoggerSecondaryISR(now uint32) {
	c.loggerSecondary(c.decoder.Secondary.Callback, c.decoder.Secondary.Edge, c.pins.Secondary, now)
}

func (c *Context) loggerPrimary(handler func(uint32), edge Edge, pin int, now uint32) {
	c.Flags.Clear(FlagValidTrigger)
	validEdge := false
	if c.edgeMatches(edge, pin) {
		handler(now)
		validEdge = true
	}
	if c.Engine.ToothLogEnabled && c.Flags.Has(FlagValidTrigger) && validEdge {
		c.Log.Add(c.CurGap)
	}
}

func (c *Context) loggerSecondary(handler func(uint32), edge Edge, pin int, now uint32) {
	c.Flags.Set(FlagValidTrigger)
	if c.edgeMatches(edge, pin) {
		handler(now)
	}
}
