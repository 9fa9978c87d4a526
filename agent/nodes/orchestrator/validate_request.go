package orchestratornode

import (
	"errors"
	"strings"
	"sync"
	"time"

	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidThread  = errors.New("thread id is empty")
)

type GraphInput struct {
	ThreadID string
	Text     string
	// Lease is filled by AcquireThread; the caller releases it after the run
	// whether or not the graph succeeded.
	Lease *Lease
}

type GraphOutput struct {
	Response contractx.TurnResponse
}

type GraphState struct {
	ThreadID string
	Text     string
	Now      time.Time
	Lease    *Lease

	// Original is the state as loaded, untouched by this turn.
	Original *statex.ConversationState
	Working  *statex.ConversationState
	Created  bool

	Reply         string
	Terminal      contractx.TerminalState
	DraftUpdates  statex.Draft
	CycleLimitHit bool
	AbortErr      error
}

// Lease holds the per-thread release func. Release is safe to call more than
// once and on a lease that was never acquired.
type Lease struct {
	mu      sync.Mutex
	release func()
}

func (l *Lease) set(release func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.release = release
}

func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.mu.Lock()
	release := l.release
	l.release = nil
	l.mu.Unlock()
	if release != nil {
		release()
	}
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	threadID := strings.TrimSpace(in.ThreadID)
	if threadID == "" {
		return nil, ErrInvalidThread
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}

	return &GraphState{
		ThreadID:     threadID,
		Text:         text,
		Now:          nowFn().UTC(),
		Lease:        in.Lease,
		DraftUpdates: statex.Draft{},
	}, nil
}
