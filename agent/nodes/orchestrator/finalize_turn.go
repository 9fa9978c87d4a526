package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
)

func FinalizeTurn(in *GraphState) (GraphOutput, error) {
	if in == nil || in.Working == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	reply := strings.TrimSpace(in.Reply)
	if reply == "" {
		return GraphOutput{}, fmt.Errorf("%w: turn produced an empty reply", contractx.ErrValidation)
	}
	return GraphOutput{Response: contractx.TurnResponse{
		ThreadID:      in.ThreadID,
		Reply:         reply,
		DraftUpdates:  in.DraftUpdates.Clone(),
		Draft:         in.Working.Draft.Clone(),
		State:         in.Terminal,
		Cycles:        in.Working.CycleCount,
		CycleLimitHit: in.CycleLimitHit,
	}}, nil
}
