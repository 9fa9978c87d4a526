package orchestratornode

import (
	"encoding/json"
	"errors"
	"fmt"

	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

const RetryMessage = "Sorry, I couldn't process that message right now. Please try again; your draft is unchanged."

// AbortTurn rolls the thread back to its pre-turn state and appends one
// assistant error message. The user message is dropped so a retry does not
// duplicate it.
func AbortTurn(in *GraphState) (*GraphState, error) {
	if in == nil || in.Original == nil {
		return nil, fmt.Errorf("%w: state not loaded", contractx.ErrValidation)
	}

	st := in.Original.Clone()
	payload, _ := json.Marshal(map[string]string{
		"error": errorKind(in.AbortErr),
	})
	st.AppendMessage(statex.Message{
		Role:      statex.RoleAssistant,
		Text:      RetryMessage,
		Payload:   payload,
		CreatedAt: in.Now,
	})
	st.Touch(in.Now)

	in.Working = st
	in.Reply = RetryMessage
	in.DraftUpdates = statex.Draft{}
	in.Terminal = contractx.TerminalAborted
	return in, nil
}

func errorKind(err error) string {
	if errors.Is(err, contractx.ErrOracleUnavailable) {
		return "oracle_unavailable"
	}
	return "aborted"
}
