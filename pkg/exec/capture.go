package exec

// capturedOutput keeps the first limit bytes a child writes and counts the
// rest. A limit of zero or less keeps everything.
type capturedOutput struct {
	data    []byte
	limit   int
	dropped int64
}

func newCapturedOutput(limit int) *capturedOutput {
	return &capturedOutput{limit: limit}
}

// Write never fails, so a chatty child is not killed by EPIPE once the cap
// is reached.
func (c *capturedOutput) Write(p []byte) (int, error) {
	n := len(p)
	if c.limit > 0 {
		room := c.limit - len(c.data)
		if room < 0 {
			room = 0
		}
		if len(p) > room {
			c.dropped += int64(len(p) - room)
			p = p[:room]
		}
	}
	c.data = append(c.data, p...)
	return n, nil
}

func (c *capturedOutput) String() string { return string(c.data) }

// Dropped is the number of bytes discarded past the cap.
func (c *capturedOutput) Dropped() int64 { return c.dropped }
