package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	qstashx "github.com/tanpawarit/hcp-interaction-agent/pkg/qstash"
)

const (
	reminderHourUTC  = 9
	maxCallbackBytes = 64 << 10
)

type Publisher interface {
	Publish(ctx context.Context, msg qstashx.Message) (qstashx.PublishResult, error)
}

type Verifier interface {
	Verify(signature string, body []byte, callbackURL string) error
}

type reminderPayload struct {
	InteractionID string `json:"interaction_id"`
	HCPName       string `json:"hcp_name"`
	FollowUpDate  string `json:"follow_up_date"`
	NextSteps     string `json:"next_steps,omitempty"`
}

// ReminderScheduler publishes a delayed QStash message that calls back
// Destination on the morning of the follow-up date.
type ReminderScheduler struct {
	publisher   Publisher
	destination string
	now         func() time.Time
}

func NewReminderScheduler(p Publisher, destination string) (*ReminderScheduler, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: publisher is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(destination) == "" {
		return nil, fmt.Errorf("%w: reminder destination is required", contractx.ErrValidation)
	}
	return &ReminderScheduler{publisher: p, destination: strings.TrimSpace(destination), now: time.Now}, nil
}

func (s *ReminderScheduler) Destination() string {
	return s.destination
}

func (s *ReminderScheduler) Schedule(ctx context.Context, rec contractx.InteractionRecord) (string, error) {
	day, err := time.Parse(time.DateOnly, strings.TrimSpace(rec.FollowUpDate))
	if err != nil {
		return "", fmt.Errorf("%w: follow_up_date %q is not YYYY-MM-DD", contractx.ErrValidation, rec.FollowUpDate)
	}
	notBefore := day.Add(reminderHourUTC * time.Hour)
	if !notBefore.After(s.now()) {
		notBefore = time.Time{}
	}

	res, err := s.publisher.Publish(ctx, qstashx.Message{
		Destination: s.destination,
		Body: reminderPayload{
			InteractionID: rec.ID,
			HCPName:       rec.HCPName,
			FollowUpDate:  rec.FollowUpDate,
			NextSteps:     rec.NextSteps,
		},
		NotBefore:     notBefore,
		Retries:       3,
		DeduplicateID: rec.ID + "-" + rec.FollowUpDate,
	})
	if err != nil {
		return "", err
	}
	log.Ctx(ctx).Info().
		Str("interaction_id", rec.ID).
		Str("follow_up_date", rec.FollowUpDate).
		Str("message_id", res.MessageID).
		Msg("follow-up reminder scheduled")
	return res.MessageID, nil
}

// reminderCallback receives the QStash delivery for a due follow-up.
func (h *Handler) reminderCallback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBytes))
	if err != nil {
		writeError(c, fmt.Errorf("%w: read body: %v", contractx.ErrValidation, err))
		return
	}

	if h.verifier != nil {
		callbackURL := ""
		if s, ok := h.reminders.(*ReminderScheduler); ok {
			callbackURL = s.Destination()
		}
		if err := h.verifier.Verify(c.GetHeader("Upstash-Signature"), body, callbackURL); err != nil {
			log.Ctx(c.Request.Context()).Warn().Err(err).Msg("rejected reminder callback")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
	}

	var p reminderPayload
	if err := json.Unmarshal(body, &p); err != nil || strings.TrimSpace(p.InteractionID) == "" {
		writeError(c, fmt.Errorf("%w: invalid reminder payload", contractx.ErrValidation))
		return
	}

	rec, err := h.records.Get(c.Request.Context(), p.InteractionID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.observer.ObserveReminder("delivered")
	log.Ctx(c.Request.Context()).Info().
		Str("interaction_id", rec.ID).
		Str("hcp_name", rec.HCPName).
		Str("follow_up_date", rec.FollowUpDate).
		Str("next_steps", rec.NextSteps).
		Msg("follow-up reminder due")
	c.JSON(http.StatusOK, gin.H{"ok": true, "interaction_id": rec.ID})
}
