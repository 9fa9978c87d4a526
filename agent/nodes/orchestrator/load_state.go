package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
)

func LoadState(ctx context.Context, in *GraphState, sessions contractx.SessionStore) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	st, created, err := sessions.GetOrCreate(ctx, in.ThreadID)
	if err != nil {
		return nil, err
	}
	in.Original = st.Clone()
	in.Working = st
	in.Created = created
	return in, nil
}

// BeginTurn appends the user message and resets the cycle budget.
func BeginTurn(in *GraphState) (*GraphState, error) {
	if in == nil || in.Working == nil {
		return nil, fmt.Errorf("%w: state not loaded", contractx.ErrValidation)
	}
	in.Working.BeginTurn(in.Text, in.Now)
	return in, nil
}
