package playback

// Cursor walks one channel's cycle. It returns the current index then
// advances modulo the cycle length, so a channel of length 4 read six times
// yields 0,1,2,3,0,1. Padding rows past the cycle are never read.
type Cursor struct {
	length int
	pos    int
}

// NewCursor creates a cursor over a cycle of length samples. A length below
// 1 is treated as 1.
func NewCursor(length int) *Cursor {
	if length < 1 {
		length = 1
	}
	return &Cursor{length: length}
}

// Next returns the index to play and advances
func (c *Cursor) Next() int {
	i := c.pos
	c.pos = (c.pos + 1) % c.length
	return i
}
