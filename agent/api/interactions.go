package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
	"github.com/tanpawarit/hcp-interaction-agent/agent/summary"
	"github.com/tanpawarit/hcp-interaction-agent/agent/tool"
)

const maxListLimit = 500

// logInteraction persists a form draft. Missing AI fields are generated and
// a follow-up reminder is scheduled when a follow-up date is present.
func (h *Handler) logInteraction(c *gin.Context) {
	var rec contractx.InteractionRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		writeError(c, fmt.Errorf("%w: %v", contractx.ErrValidation, err))
		return
	}
	rec.ID = ""

	ctx := c.Request.Context()
	fields := rec.Fields()

	if strings.TrimSpace(rec.AISummary) == "" || strings.TrimSpace(rec.AIEntitiesJSON) == "" {
		res := summary.Fallback(fields)
		if h.summarizer != nil {
			generated, err := h.summarizer.Summarize(ctx, fields)
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Msg("summary generation failed, using fallback")
			} else {
				res = generated
			}
		}
		if strings.TrimSpace(rec.AISummary) == "" {
			rec.AISummary = res.Summary
		}
		if strings.TrimSpace(rec.AIEntitiesJSON) == "" {
			rec.AIEntitiesJSON = res.EntitiesJSON
		}
	}

	if strings.TrimSpace(rec.ComplianceFlagsJSON) == "" {
		text := strings.Join([]string{rec.RawNotes, rec.KeyPoints, rec.Outcome, rec.AISummary}, "\n")
		report := tool.CheckCompliance(text, rec.ProductsDiscussed)
		if encoded, err := json.Marshal(report); err == nil {
			rec.ComplianceFlagsJSON = string(encoded)
		}
	}

	if err := h.records.Create(ctx, &rec); err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"interaction": rec}
	if id := h.scheduleReminder(c, rec); id != "" {
		resp["reminder_id"] = id
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) scheduleReminder(c *gin.Context, rec contractx.InteractionRecord) string {
	if h.reminders == nil || strings.TrimSpace(rec.FollowUpDate) == "" {
		return ""
	}
	ctx := c.Request.Context()
	id, err := h.reminders.Schedule(ctx, rec)
	if err != nil {
		h.observer.ObserveReminder("failed")
		log.Ctx(ctx).Warn().Err(err).Str("interaction_id", rec.ID).Msg("follow-up reminder not scheduled")
		return ""
	}
	h.observer.ObserveReminder("published")
	return id
}

func (h *Handler) updateInteraction(c *gin.Context) {
	var fields statex.Draft
	if err := c.ShouldBindJSON(&fields); err != nil {
		writeError(c, fmt.Errorf("%w: %v", contractx.ErrValidation, err))
		return
	}
	for k := range fields {
		if !statex.IsDraftField(k) {
			writeError(c, fmt.Errorf("%w: %s", statex.ErrUnknownField, k))
			return
		}
	}
	if v, ok := fields[statex.FieldHCPName]; ok && strings.TrimSpace(v) == "" {
		writeError(c, fmt.Errorf("%w: hcp_name cannot be cleared", contractx.ErrValidation))
		return
	}

	rec, err := h.records.Update(c.Request.Context(), c.Param("id"), fields)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"interaction": rec})
}

func (h *Handler) getInteraction(c *gin.Context) {
	rec, err := h.records.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"interaction": rec})
}

func (h *Handler) listInteractions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := cast.ToIntE(raw)
		if err != nil || n < 0 {
			writeError(c, fmt.Errorf("%w: limit must be a non-negative integer", contractx.ErrValidation))
			return
		}
		limit = min(n, maxListLimit)
	}

	recs, err := h.records.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if recs == nil {
		recs = []contractx.InteractionRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"interactions": recs, "count": len(recs)})
}
