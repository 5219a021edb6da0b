package prompt

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func loadCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			codec = c
		}
	})
	return codec
}

// CountTokens approximates the prompt size of messages with the cl100k
// encoding. Llama tokenizers differ slightly; the number is only used for logs.
func CountTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += countText(m.Content)
	}
	return total
}

func countText(text string) int {
	if text == "" {
		return 0
	}
	if c := loadCodec(); c != nil {
		if ids, _, err := c.Encode(text); err == nil {
			return len(ids)
		}
	}
	return (len([]rune(text)) + 3) / 4
}
