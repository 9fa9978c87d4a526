package orchestratornode

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

type toolEnvelope struct {
	Status       contractx.ToolStatus `json:"status"`
	Kind         contractx.ErrorKind  `json:"kind,omitempty"`
	Reason       string               `json:"reason,omitempty"`
	Payload      any                  `json:"payload,omitempty"`
	DraftUpdates statex.Draft         `json:"draft_updates,omitempty"`
}

// MergeResult folds one tool result into st: draft updates from a successful
// result are merged and a tool message describing the result is appended.
// It returns the draft keys whose value changed.
func MergeResult(st *statex.ConversationState, call contractx.ToolCall, res contractx.ToolResult, now time.Time) []string {
	var changed []string
	if res.OK() {
		changed = st.MergeDraft(res.DraftUpdates)
	}

	payload, err := json.Marshal(toolEnvelope{
		Status:       res.Status,
		Kind:         res.Kind,
		Reason:       res.Reason,
		Payload:      res.Payload,
		DraftUpdates: res.DraftUpdates,
	})
	if err != nil {
		payload, _ = json.Marshal(toolEnvelope{
			Status: res.Status,
			Kind:   contractx.KindToolExecution,
			Reason: fmt.Sprintf("payload not serializable: %v", err),
		})
	}

	st.AppendMessage(statex.Message{
		Role:       statex.RoleTool,
		Text:       summarizeResult(call.Name, res),
		Tool:       call.Name,
		ToolCallID: call.ID,
		Args:       call.CloneArgs(),
		Payload:    payload,
		CreatedAt:  now.UTC(),
	})
	st.Touch(now)
	return changed
}

func summarizeResult(tool string, res contractx.ToolResult) string {
	if !res.OK() {
		return fmt.Sprintf("%s failed (%s): %s", tool, res.Kind, res.Reason)
	}
	if len(res.DraftUpdates) == 0 {
		return tool + " succeeded"
	}
	return fmt.Sprintf("%s succeeded; draft fields: %s", tool, strings.Join(res.DraftUpdates.Keys(), ", "))
}
