package harness

// Clock is the discretized logical clock of one schedule. Operations active
// across a return share a time bucket; the first call after a return opens a
// new one. The clock itself is unbounded.
type Clock struct {
	now      int
	returned bool
}

// Call stamps an operation call and returns its time.
func (c *Clock) Call() int {
	if c.returned {
		c.now++
		c.returned = false
	}
	return c.now
}

// Return stamps an operation return and returns its time.
func (c *Clock) Return() int {
	c.returned = true
	return c.now
}

// Now returns the current time.
func (c *Clock) Now() int {
	return c.now
}

// Reset rewinds the clock to zero.
func (c *Clock) Reset() {
	c.now = 0
	c.returned = false
}
