package prompt

// Compressor reduces a list of messages to fit within constraints.
type Compressor interface {
	Compress(messages []Message) []Message
}

// SimpleCompressor keeps only the last MaxMessages messages.
type SimpleCompressor struct {
	MaxMessages int
}

// Compress truncates messages to the most recent MaxMessages entries.
// The returned slice never aliases the front of the input, so callers may
// append to it without clobbering evicted turns.
func (c *SimpleCompressor) Compress(messages []Message) []Message {
	if c.MaxMessages <= 0 || len(messages) <= c.MaxMessages {
		return messages
	}
	out := make([]Message, c.MaxMessages)
	copy(out, messages[len(messages)-c.MaxMessages:])
	return out
}
