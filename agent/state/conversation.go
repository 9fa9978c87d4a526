package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// ConversationState is the persistent source-of-truth for one chat thread.
// - History: Messages in arrival order (user / assistant / tool)
// - Draft: interaction-record fields gathered so far, all optional until saved
// - CycleCount: tool cycles spent on the current user message
type ConversationState struct {
	ThreadID string `json:"thread_id"`

	Messages   []Message `json:"messages,omitempty"`
	Draft      Draft     `json:"draft,omitempty"`
	CycleCount int       `json:"cycle_count"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

type Message struct {
	Role       Role            `json:"role"`
	Text       string          `json:"text"`
	Tool       string          `json:"tool,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Args       map[string]any  `json:"args,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

/* ------------------------------ Draft fields ----------------------------- */

const (
	FieldHCPName             = "hcp_name"
	FieldSpecialty           = "specialty"
	FieldOrganization        = "organization"
	FieldInteractionDate     = "interaction_date"
	FieldChannel             = "channel"
	FieldPurpose             = "purpose"
	FieldProductsDiscussed   = "products_discussed"
	FieldKeyPoints           = "key_points"
	FieldOutcome             = "outcome"
	FieldNextSteps           = "next_steps"
	FieldFollowUpDate        = "follow_up_date"
	FieldRawNotes            = "raw_notes"
	FieldAISummary           = "ai_summary"
	FieldAIEntitiesJSON      = "ai_entities_json"
	FieldComplianceFlagsJSON = "compliance_flags_json"
)

var draftFields = []string{
	FieldHCPName,
	FieldSpecialty,
	FieldOrganization,
	FieldInteractionDate,
	FieldChannel,
	FieldPurpose,
	FieldProductsDiscussed,
	FieldKeyPoints,
	FieldOutcome,
	FieldNextSteps,
	FieldFollowUpDate,
	FieldRawNotes,
	FieldAISummary,
	FieldAIEntitiesJSON,
	FieldComplianceFlagsJSON,
}

// DraftFields lists every field name a draft may carry, in form order.
func DraftFields() []string {
	return slices.Clone(draftFields)
}

func IsDraftField(name string) bool {
	return slices.Contains(draftFields, name)
}

// Draft maps field name to value. A missing key means "unknown"; an empty
// string is an explicit empty value.
type Draft map[string]string

func (d Draft) Clone() Draft {
	if d == nil {
		return Draft{}
	}
	return maps.Clone(d)
}

func (d Draft) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

/* -------------------------- ConversationState ---------------------------- */

var (
	ErrNilState       = errors.New("conversation state is nil")
	ErrInvalidThread  = errors.New("thread id is empty")
	ErrUnknownField   = errors.New("unknown draft field")
	ErrInvalidMessage = errors.New("invalid message")
)

func NewConversationState(threadID string, now time.Time) *ConversationState {
	return &ConversationState{
		ThreadID:  threadID,
		Draft:     make(Draft, len(draftFields)),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func (s *ConversationState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// EnsureDraft makes sure s.Draft is initialized.
func (s *ConversationState) EnsureDraft() {
	if s.Draft == nil {
		s.Draft = make(Draft, len(draftFields))
	}
}

func (s *ConversationState) AppendMessage(m Message) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.UpdatedAt
	}
	s.Messages = append(s.Messages, m)
}

// BeginTurn records an incoming user message and resets the cycle budget.
func (s *ConversationState) BeginTurn(text string, now time.Time) {
	s.AppendMessage(Message{
		Role:      RoleUser,
		Text:      text,
		CreatedAt: now.UTC(),
	})
	s.CycleCount = 0
	s.Touch(now)
}

// MergeDraft writes every key of updates into the draft and returns the keys
// whose value actually changed. Keys absent from updates are never touched.
func (s *ConversationState) MergeDraft(updates Draft) []string {
	if len(updates) == 0 {
		return nil
	}
	s.EnsureDraft()

	var changed []string
	for _, k := range updates.Keys() {
		v := updates[k]
		if cur, ok := s.Draft[k]; ok && cur == v {
			continue
		}
		s.Draft[k] = v
		changed = append(changed, k)
	}
	return changed
}

// ApplyCorrection applies an explicit user edit. Only known fields are
// accepted; the whole correction is rejected otherwise.
func (s *ConversationState) ApplyCorrection(fields Draft, now time.Time) ([]string, error) {
	for k := range fields {
		if !IsDraftField(k) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, k)
		}
	}
	changed := s.MergeDraft(fields)
	if len(changed) > 0 {
		s.Touch(now)
	}
	return changed, nil
}

func (s *ConversationState) LastUserMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// Clone returns a deep copy so a run can mutate it without touching the
// caller's value.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s
	out.Draft = s.Draft.Clone()
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		cp := m
		if m.Args != nil {
			cp.Args = maps.Clone(m.Args)
		}
		if m.Payload != nil {
			cp.Payload = slices.Clone(m.Payload)
		}
		out.Messages[i] = cp
	}
	return &out
}

func (s *ConversationState) Validate() error {
	if s == nil {
		return ErrNilState
	}
	if strings.TrimSpace(s.ThreadID) == "" {
		return ErrInvalidThread
	}
	if s.CycleCount < 0 {
		return fmt.Errorf("cycle count must be >= 0, got %d", s.CycleCount)
	}
	for i, m := range s.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: message %d has role %q", ErrInvalidMessage, i, m.Role)
		}
		if m.Role == RoleTool && strings.TrimSpace(m.Tool) == "" {
			return fmt.Errorf("%w: tool message %d has no tool name", ErrInvalidMessage, i)
		}
	}
	for k := range s.Draft {
		if !IsDraftField(k) {
			return fmt.Errorf("%w: %s", ErrUnknownField, k)
		}
	}
	return nil
}
