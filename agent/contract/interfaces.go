package contract

import (
	"context"

	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

// Oracle picks the next move of a turn: reply to the user or call a tool.
type Oracle interface {
	Decide(ctx context.Context, req DecideRequest) (Decision, error)
}

type ToolGateway interface {
	Catalog() []ToolSpec
	Execute(ctx context.Context, call ToolCall, tc ToolContext) ToolResult
}

// RecordStore is the read side tools see.
type RecordStore interface {
	Find(ctx context.Context, filter RecordFilter) ([]InteractionRecord, error)
	Aggregate(ctx context.Context, filter RecordFilter) (RecordSummary, error)
}

type RecordRepository interface {
	RecordStore
	Create(ctx context.Context, rec *InteractionRecord) error
	Update(ctx context.Context, id string, fields statex.Draft) (InteractionRecord, error)
	Get(ctx context.Context, id string) (InteractionRecord, error)
	List(ctx context.Context, limit int) ([]InteractionRecord, error)
}

type SessionStore interface {
	Acquire(ctx context.Context, threadID string) (release func(), err error)
	GetOrCreate(ctx context.Context, threadID string) (*statex.ConversationState, bool, error)
	Save(ctx context.Context, threadID string, st *statex.ConversationState) error
}

type TurnHandler interface {
	HandleTurn(ctx context.Context, req TurnRequest) (TurnResponse, error)
}
