package history

import (
	"context"

	"github.com/stupiduntilnot/zyro/internal/prompt"
)

// Backend is the durable side of a Store.
//
// Load returns every stored window. A backend with no prior state must
// establish its storage format (for example write an empty document) and
// return an empty map.
//
// Write replaces the stored window of one user. It must not return before the
// window is durable.
type Backend interface {
	Load(ctx context.Context) (map[string][]prompt.Message, error)
	Write(ctx context.Context, userID string, window []prompt.Message) error
	Close() error
}

func sanitize(window []prompt.Message) []prompt.Message {
	out := make([]prompt.Message, 0, len(window))
	for _, m := range window {
		if !prompt.ValidRole(m.Role) {
			continue
		}
		out = append(out, prompt.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
