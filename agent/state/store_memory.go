package state

import (
	"context"
	"sync"
)

// MemoryStore keeps serialized states in process memory. Values are stored
// as JSON so callers never share pointers with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, threadID string) (*ConversationState, error) {
	if _, err := threadKey("", threadID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	payload, ok := s.data[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrStateNotFound
	}
	return decodeState(payload)
}

func (s *MemoryStore) Save(ctx context.Context, st *ConversationState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := encodeState(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[st.ThreadID] = payload
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	delete(s.data, threadID)
	s.mu.Unlock()
	return nil
}
