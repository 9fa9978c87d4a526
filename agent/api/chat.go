package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

type chatRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

type chatResponse struct {
	ThreadID         string                  `json:"thread_id"`
	AssistantMessage string                  `json:"assistant_message"`
	DraftInteraction statex.Draft            `json:"draft_interaction"`
	DraftUpdates     statex.Draft            `json:"draft_updates"`
	TerminalState    contractx.TerminalState `json:"terminal_state"`
	Cycles           int                     `json:"cycles"`
	CycleLimitHit    bool                    `json:"cycle_limit_hit"`
}

func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", contractx.ErrValidation, err))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(c, fmt.Errorf("%w: message is required", contractx.ErrValidation))
		return
	}
	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		threadID = h.newID()
	}

	resp, err := h.turns.HandleTurn(c.Request.Context(), contractx.TurnRequest{
		ThreadID:    threadID,
		UserMessage: req.Message,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, chatResponse{
		ThreadID:         resp.ThreadID,
		AssistantMessage: resp.Reply,
		DraftInteraction: resp.Draft,
		DraftUpdates:     resp.DraftUpdates,
		TerminalState:    resp.State,
		Cycles:           resp.Cycles,
		CycleLimitHit:    resp.CycleLimitHit,
	})
}

func (h *Handler) getThread(c *gin.Context) {
	st, err := h.threads.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type draftCorrection struct {
	Fields statex.Draft `json:"fields"`
}

// correctDraft applies a user edit to the thread's draft under the thread
// lease, so it never interleaves with a running turn.
func (h *Handler) correctDraft(c *gin.Context) {
	var req draftCorrection
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", contractx.ErrValidation, err))
		return
	}
	if len(req.Fields) == 0 {
		writeError(c, fmt.Errorf("%w: fields must not be empty", contractx.ErrValidation))
		return
	}

	ctx := c.Request.Context()
	threadID := c.Param("id")
	release, err := h.threads.Acquire(ctx, threadID)
	if err != nil {
		writeError(c, fmt.Errorf("%w: %w", contractx.ErrThreadBusy, err))
		return
	}
	defer release()

	st, err := h.threads.Load(ctx, threadID)
	if err != nil {
		writeError(c, err)
		return
	}
	changed, err := st.ApplyCorrection(req.Fields, h.now())
	if err != nil {
		writeError(c, err)
		return
	}
	if len(changed) > 0 {
		if err := h.threads.Save(ctx, threadID, st); err != nil {
			writeError(c, err)
			return
		}
	}
	if changed == nil {
		changed = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"thread_id":         threadID,
		"changed":           changed,
		"draft_interaction": st.Draft,
	})
}
