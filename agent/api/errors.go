package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	orchestratorx "github.com/tanpawarit/hcp-interaction-agent/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, contractx.ErrValidation),
		errors.Is(err, orchestratorx.ErrInvalidMessage),
		errors.Is(err, orchestratorx.ErrInvalidThread),
		errors.Is(err, statex.ErrUnknownField),
		errors.Is(err, statex.ErrInvalidThread):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, contractx.ErrRecordNotFound),
		errors.Is(err, statex.ErrStateNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, contractx.ErrThreadBusy):
		return http.StatusConflict, "thread_busy"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Ctx(c.Request.Context()).Error().Err(err).Str("route", c.FullPath()).Msg("request failed")
		c.JSON(status, gin.H{"error": code})
		return
	}
	c.JSON(status, gin.H{"error": code, "detail": err.Error()})
}
