package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
	"github.com/tanpawarit/hcp-interaction-agent/agent/summary"
)

// ThreadStore is the slice of the session store the HTTP layer needs for
// reading threads and applying draft corrections.
type ThreadStore interface {
	Acquire(ctx context.Context, threadID string) (release func(), err error)
	Load(ctx context.Context, threadID string) (*statex.ConversationState, error)
	Save(ctx context.Context, threadID string, st *statex.ConversationState) error
}

type Scheduler interface {
	Schedule(ctx context.Context, rec contractx.InteractionRecord) (string, error)
}

type Observer interface {
	ObserveRequest(method, route string, code int)
	ObserveReminder(outcome string)
}

type Handler struct {
	turns      contractx.TurnHandler
	threads    ThreadStore
	records    contractx.RecordRepository
	summarizer summary.Generator
	reminders  Scheduler
	verifier   Verifier
	observer   Observer
	model      string

	now   func() time.Time
	newID func() string
}

type Option func(*Handler)

func WithSummarizer(g summary.Generator) Option {
	return func(h *Handler) { h.summarizer = g }
}

func WithReminders(s Scheduler) Option {
	return func(h *Handler) { h.reminders = s }
}

func WithVerifier(v Verifier) Option {
	return func(h *Handler) { h.verifier = v }
}

func WithObserver(o Observer) Option {
	return func(h *Handler) {
		if o != nil {
			h.observer = o
		}
	}
}

func WithModelName(name string) Option {
	return func(h *Handler) { h.model = name }
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(h *Handler) {
		if fn != nil {
			h.newID = fn
		}
	}
}

func NewHandler(
	turns contractx.TurnHandler,
	threads ThreadStore,
	records contractx.RecordRepository,
	opts ...Option,
) *Handler {
	h := &Handler{
		turns:    turns,
		threads:  threads,
		records:  records,
		observer: nopObserver{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, string, int) {}
func (nopObserver) ObserveReminder(string)             {}
