package history

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/stupiduntilnot/zyro/internal/prompt"
)

// DefaultWindow is the number of turns kept per user.
const DefaultWindow = 8

// Options configures a Store.
type Options struct {
	Window int
}

// Store keeps a bounded, ordered window of turns per user and persists every
// mutation through its Backend before returning.
//
// Writers for the same user are serialized; writers for different users run
// in parallel.
type Store struct {
	backend    Backend
	compressor prompt.SimpleCompressor
	locks      *keyedMutex

	mu      sync.RWMutex
	windows map[string][]prompt.Message
}

// Open loads all windows from backend.
func Open(ctx context.Context, backend Backend, opts Options) (*Store, error) {
	if backend == nil {
		return nil, errors.New("history: nil backend")
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	loaded, err := backend.Load(ctx)
	if err != nil {
		return nil, &StorageError{Op: "load", Err: err}
	}

	s := &Store{
		backend:    backend,
		compressor: prompt.SimpleCompressor{MaxMessages: opts.Window},
		locks:      newKeyedMutex(),
		windows:    make(map[string][]prompt.Message, len(loaded)),
	}
	for userID, window := range loaded {
		s.windows[userID] = s.compressor.Compress(sanitize(window))
	}
	log.Debug().Int("users", len(s.windows)).Int("window", opts.Window).Msg("history loaded")
	return s, nil
}

// Window returns the configured maximum window length.
func (s *Store) Window() int { return s.compressor.MaxMessages }

// Get returns a copy of the user's window, oldest first. Unknown users get an
// empty slice.
func (s *Store) Get(userID string) []prompt.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	window := s.windows[userID]
	out := make([]prompt.Message, len(window))
	copy(out, window)
	return out
}

// Users returns the number of users with a recorded window.
func (s *Store) Users() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}

// Append adds one turn, evicts from the front down to the window size and
// persists the result.
//
// On a storage failure the in-memory window keeps the new turn and the
// returned error matches ErrStorage; the next successful write persists it.
func (s *Store) Append(ctx context.Context, userID, role, content string) error {
	if err := validate(userID, role); err != nil {
		return err
	}
	unlock := s.locks.Lock(userID)
	defer unlock()
	return s.appendLocked(ctx, userID, prompt.Message{Role: role, Content: content})
}

// AppendExchange performs the two appends of a successful exchange (user
// input, then assistant reply) while holding the user's lock, so no other
// writer can land between them. Both appends are attempted; the first error
// is returned.
func (s *Store) AppendExchange(ctx context.Context, userID, input, reply string) error {
	if err := validate(userID, prompt.RoleUser); err != nil {
		return err
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	firstErr := s.appendLocked(ctx, userID, prompt.Message{Role: prompt.RoleUser, Content: input})
	if err := s.appendLocked(ctx, userID, prompt.Message{Role: prompt.RoleAssistant, Content: reply}); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) appendLocked(ctx context.Context, userID string, turn prompt.Message) error {
	s.mu.RLock()
	current := s.windows[userID]
	s.mu.RUnlock()

	next := make([]prompt.Message, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, turn)
	next = s.compressor.Compress(next)

	s.mu.Lock()
	s.windows[userID] = next
	s.mu.Unlock()

	if err := s.backend.Write(ctx, userID, next); err != nil {
		return &StorageError{Op: "write", UserID: userID, Err: err}
	}
	return nil
}

func validate(userID, role string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.Wrap(ErrInvalidTurn, "empty user id")
	}
	if !prompt.ValidRole(role) {
		return errors.Wrapf(ErrInvalidTurn, "role %q", role)
	}
	return nil
}
