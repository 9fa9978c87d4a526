package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

func PersistState(ctx context.Context, in *GraphState, sessions contractx.SessionStore) (*GraphState, error) {
	if in == nil || in.Working == nil {
		return nil, fmt.Errorf("%w: state not loaded", contractx.ErrValidation)
	}

	if in.Terminal == contractx.TerminalResponding {
		in.Working.AppendMessage(statex.Message{
			Role:      statex.RoleAssistant,
			Text:      in.Reply,
			CreatedAt: in.Now,
		})
	}
	if err := in.Working.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", contractx.ErrValidation, err)
	}
	if err := sessions.Save(ctx, in.ThreadID, in.Working); err != nil {
		return nil, fmt.Errorf("save thread %s: %w", in.ThreadID, err)
	}

	log.Ctx(ctx).Debug().
		Str("thread_id", in.ThreadID).
		Str("terminal", string(in.Terminal)).
		Int("cycles", in.Working.CycleCount).
		Int64("version", in.Working.Version).
		Msg("thread state saved")
	return in, nil
}
