package contract

import (
	"maps"
	"strings"
	"time"

	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

type AgentType string

const (
	AgentTypeOracle     AgentType = "oracle"
	AgentTypeSummarizer AgentType = "summarizer"
)

/* --------------------------------- tools --------------------------------- */

type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamArray   ParamType = "array"
)

type ParamSpec struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Desc     string    `json:"desc"`
	Required bool      `json:"required,omitempty"`
	Enum     []string  `json:"enum,omitempty"`
}

// ToolSpec is the catalog entry the oracle chooses from.
type ToolSpec struct {
	Name   string      `json:"name"`
	Desc   string      `json:"desc"`
	Params []ParamSpec `json:"params"`
}

// ToolContext is everything a tool may read. It never carries history.
type ToolContext struct {
	Records RecordStore
	Draft   statex.Draft
	Now     time.Time
}

type ToolStatus string

const (
	ToolSuccess ToolStatus = "success"
	ToolFailure ToolStatus = "failure"
)

type ToolResult struct {
	Tool         string       `json:"tool"`
	CallID       string       `json:"call_id,omitempty"`
	Status       ToolStatus   `json:"status"`
	Payload      any          `json:"payload,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	Kind         ErrorKind    `json:"kind,omitempty"`
	DraftUpdates statex.Draft `json:"draft_updates,omitempty"`
}

func Success(tool string, payload any, updates statex.Draft) ToolResult {
	return ToolResult{
		Tool:         tool,
		Status:       ToolSuccess,
		Payload:      payload,
		DraftUpdates: updates,
	}
}

func Failure(tool string, kind ErrorKind, reason string) ToolResult {
	return ToolResult{
		Tool:   tool,
		Status: ToolFailure,
		Kind:   kind,
		Reason: reason,
	}
}

func (r ToolResult) OK() bool { return r.Status == ToolSuccess }

/* ------------------------------- decisions ------------------------------- */

// Decision is either a Reply or a ToolCall.
type Decision interface {
	isDecision()
}

type Reply struct {
	Text string `json:"text"`
}

type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

func (Reply) isDecision()    {}
func (ToolCall) isDecision() {}

func (c ToolCall) CloneArgs() map[string]any {
	if c.Args == nil {
		return map[string]any{}
	}
	return maps.Clone(c.Args)
}

type DecideRequest struct {
	ThreadID  string           `json:"thread_id"`
	History   []statex.Message `json:"history"`
	Draft     statex.Draft     `json:"draft"`
	Tools     []ToolSpec       `json:"tools"`
	Cycle     int              `json:"cycle"`
	MaxCycles int              `json:"max_cycles"`
	Now       time.Time        `json:"now"`
}

/* -------------------------------- records -------------------------------- */

type Channel string

const (
	ChannelInPerson Channel = "in_person"
	ChannelCall     Channel = "call"
	ChannelVideo    Channel = "video"
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelOther    Channel = "other"
)

// NormalizeChannel folds free text into one of the known channels.
func NormalizeChannel(raw string) Channel {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	switch s {
	case "":
		return ""
	case "in_person", "inperson", "visit", "meeting", "face_to_face", "f2f":
		return ChannelInPerson
	case "call", "phone", "phone_call", "telephone":
		return ChannelCall
	case "video", "video_call", "zoom", "teams", "virtual":
		return ChannelVideo
	case "email", "e_mail", "mail":
		return ChannelEmail
	case "whatsapp", "whats_app", "wa":
		return ChannelWhatsApp
	default:
		return ChannelOther
	}
}

// InteractionRecord is a persisted, logged HCP interaction.
type InteractionRecord struct {
	ID                  string    `json:"id"`
	HCPName             string    `json:"hcp_name"`
	Specialty           string    `json:"specialty,omitempty"`
	Organization        string    `json:"organization,omitempty"`
	InteractionDate     string    `json:"interaction_date,omitempty"`
	Channel             string    `json:"channel,omitempty"`
	Purpose             string    `json:"purpose,omitempty"`
	ProductsDiscussed   string    `json:"products_discussed,omitempty"`
	KeyPoints           string    `json:"key_points,omitempty"`
	Outcome             string    `json:"outcome,omitempty"`
	NextSteps           string    `json:"next_steps,omitempty"`
	FollowUpDate        string    `json:"follow_up_date,omitempty"`
	RawNotes            string    `json:"raw_notes,omitempty"`
	AISummary           string    `json:"ai_summary,omitempty"`
	AIEntitiesJSON      string    `json:"ai_entities_json,omitempty"`
	ComplianceFlagsJSON string    `json:"compliance_flags_json,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Fields exposes the record as a draft-shaped map.
func (r InteractionRecord) Fields() statex.Draft {
	return statex.Draft{
		statex.FieldHCPName:             r.HCPName,
		statex.FieldSpecialty:           r.Specialty,
		statex.FieldOrganization:        r.Organization,
		statex.FieldInteractionDate:     r.InteractionDate,
		statex.FieldChannel:             r.Channel,
		statex.FieldPurpose:             r.Purpose,
		statex.FieldProductsDiscussed:   r.ProductsDiscussed,
		statex.FieldKeyPoints:           r.KeyPoints,
		statex.FieldOutcome:             r.Outcome,
		statex.FieldNextSteps:           r.NextSteps,
		statex.FieldFollowUpDate:        r.FollowUpDate,
		statex.FieldRawNotes:            r.RawNotes,
		statex.FieldAISummary:           r.AISummary,
		statex.FieldAIEntitiesJSON:      r.AIEntitiesJSON,
		statex.FieldComplianceFlagsJSON: r.ComplianceFlagsJSON,
	}
}

// Apply copies known draft fields onto the record. Unknown keys are ignored.
func (r *InteractionRecord) Apply(fields statex.Draft) {
	for k, v := range fields {
		switch k {
		case statex.FieldHCPName:
			r.HCPName = v
		case statex.FieldSpecialty:
			r.Specialty = v
		case statex.FieldOrganization:
			r.Organization = v
		case statex.FieldInteractionDate:
			r.InteractionDate = v
		case statex.FieldChannel:
			r.Channel = string(NormalizeChannel(v))
		case statex.FieldPurpose:
			r.Purpose = v
		case statex.FieldProductsDiscussed:
			r.ProductsDiscussed = v
		case statex.FieldKeyPoints:
			r.KeyPoints = v
		case statex.FieldOutcome:
			r.Outcome = v
		case statex.FieldNextSteps:
			r.NextSteps = v
		case statex.FieldFollowUpDate:
			r.FollowUpDate = v
		case statex.FieldRawNotes:
			r.RawNotes = v
		case statex.FieldAISummary:
			r.AISummary = v
		case statex.FieldAIEntitiesJSON:
			r.AIEntitiesJSON = v
		case statex.FieldComplianceFlagsJSON:
			r.ComplianceFlagsJSON = v
		}
	}
}

// InteractionAt parses InteractionDate, falling back to CreatedAt.
func (r InteractionRecord) InteractionAt() time.Time {
	if t, err := time.Parse(time.DateOnly, strings.TrimSpace(r.InteractionDate)); err == nil {
		return t
	}
	return r.CreatedAt
}

type RecordFilter struct {
	IDs       []string   `json:"ids,omitempty"`
	HCPName   string     `json:"hcp_name,omitempty"`
	Specialty string     `json:"specialty,omitempty"`
	Channel   string     `json:"channel,omitempty"`
	Query     string     `json:"query,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

type RecordSummary struct {
	Total       int            `json:"total"`
	ByChannel   map[string]int `json:"by_channel"`
	BySpecialty map[string]int `json:"by_specialty"`
}

/* --------------------------------- turns --------------------------------- */

type TerminalState string

const (
	TerminalResponding TerminalState = "RESPONDING"
	TerminalAborted    TerminalState = "ABORTED"
)

type TurnRequest struct {
	ThreadID    string `json:"thread_id"`
	UserMessage string `json:"user_message"`
}

type TurnResponse struct {
	ThreadID      string        `json:"thread_id"`
	Reply         string        `json:"assistant_reply"`
	DraftUpdates  statex.Draft  `json:"updated_draft_fields"`
	Draft         statex.Draft  `json:"draft"`
	State         TerminalState `json:"terminal_state"`
	Cycles        int           `json:"cycles"`
	CycleLimitHit bool          `json:"cycle_limit_hit,omitempty"`
}
