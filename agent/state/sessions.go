package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Sessions is the session store: get-or-create, save, and a per-thread lease
// that keeps at most one run in flight for a thread id.
type Sessions struct {
	store  Store
	locker Locker
	now    func() time.Time
}

type SessionsOption func(*Sessions)

func WithLocker(l Locker) SessionsOption {
	return func(s *Sessions) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithClock(now func() time.Time) SessionsOption {
	return func(s *Sessions) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSessions(store Store, opts ...SessionsOption) (*Sessions, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	s := &Sessions{
		store:  store,
		locker: NewLocalLocker(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Acquire blocks until the caller owns threadID or ctx ends.
func (s *Sessions) Acquire(ctx context.Context, threadID string) (func(), error) {
	return s.locker.Acquire(ctx, threadID)
}

// GetOrCreate returns the stored state or a fresh one. A fresh state is not
// persisted until Save.
func (s *Sessions) GetOrCreate(ctx context.Context, threadID string) (*ConversationState, bool, error) {
	st, err := s.store.Load(ctx, threadID)
	switch {
	case err == nil:
		return st, false, nil
	case errors.Is(err, ErrStateNotFound):
		log.Ctx(ctx).Debug().Str("thread_id", threadID).Msg("creating conversation state")
		return NewConversationState(threadID, s.now()), true, nil
	default:
		return nil, false, fmt.Errorf("load thread %s: %w", threadID, err)
	}
}

// Load returns ErrStateNotFound for unknown threads.
func (s *Sessions) Load(ctx context.Context, threadID string) (*ConversationState, error) {
	return s.store.Load(ctx, threadID)
}

func (s *Sessions) Save(ctx context.Context, threadID string, st *ConversationState) error {
	if st == nil {
		return ErrNilState
	}
	if st.ThreadID != threadID {
		return fmt.Errorf("%w: state belongs to %q, not %q", ErrInvalidThread, st.ThreadID, threadID)
	}
	return s.store.Save(ctx, st)
}

func (s *Sessions) Now() time.Time {
	return s.now()
}
