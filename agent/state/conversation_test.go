package state

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func TestMergeDraftNeverClearsAbsentFields(t *testing.T) {
	t.Parallel()

	st := NewConversationState("t", time.Now())
	st.MergeDraft(Draft{FieldHCPName: "Dr. Sharma", FieldSpecialty: "cardiology"})

	changed := st.MergeDraft(Draft{FieldOutcome: "agreed to trial"})
	if !slices.Equal(changed, []string{FieldOutcome}) {
		t.Fatalf("changed = %v", changed)
	}
	if st.Draft[FieldHCPName] != "Dr. Sharma" || st.Draft[FieldSpecialty] != "cardiology" {
		t.Fatalf("draft lost fields: %v", st.Draft)
	}
}

func TestMergeDraftLastWriterWins(t *testing.T) {
	t.Parallel()

	st := NewConversationState("t", time.Now())
	st.MergeDraft(Draft{FieldChannel: "call"})
	changed := st.MergeDraft(Draft{FieldChannel: "video", FieldHCPName: "Dr. Rao"})

	if st.Draft[FieldChannel] != "video" {
		t.Fatalf("channel = %q, want video", st.Draft[FieldChannel])
	}
	if !slices.Equal(changed, []string{FieldChannel, FieldHCPName}) {
		t.Fatalf("changed = %v", changed)
	}
	if again := st.MergeDraft(Draft{FieldChannel: "video"}); len(again) != 0 {
		t.Fatalf("unchanged merge reported %v", again)
	}
}

func TestBeginTurnResetsCycleCount(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	st := NewConversationState("t", now)
	st.CycleCount = 4

	st.BeginTurn("met Dr. Sharma", now.Add(time.Minute))

	if st.CycleCount != 0 {
		t.Fatalf("CycleCount = %d, want 0", st.CycleCount)
	}
	msg, ok := st.LastUserMessage()
	if !ok || msg.Text != "met Dr. Sharma" {
		t.Fatalf("LastUserMessage() = %+v, %v", msg, ok)
	}
	if !st.UpdatedAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("UpdatedAt = %v", st.UpdatedAt)
	}
}

func TestApplyCorrectionRejectsUnknownField(t *testing.T) {
	t.Parallel()

	st := NewConversationState("t", time.Now())
	st.MergeDraft(Draft{FieldHCPName: "Dr. Sharma"})

	_, err := st.ApplyCorrection(Draft{FieldHCPName: "Dr. Shah", "favourite_colour": "blue"}, time.Now())
	if !errors.Is(err, ErrUnknownField) {
		t.Fatalf("ApplyCorrection() error = %v, want ErrUnknownField", err)
	}
	if st.Draft[FieldHCPName] != "Dr. Sharma" {
		t.Fatalf("rejected correction mutated draft: %v", st.Draft)
	}

	changed, err := st.ApplyCorrection(Draft{FieldHCPName: "Dr. Shah"}, time.Now())
	if err != nil {
		t.Fatalf("ApplyCorrection() error = %v", err)
	}
	if !slices.Equal(changed, []string{FieldHCPName}) || st.Draft[FieldHCPName] != "Dr. Shah" {
		t.Fatalf("changed = %v draft = %v", changed, st.Draft)
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	st := NewConversationState("t", time.Now())
	st.MergeDraft(Draft{FieldHCPName: "Dr. Sharma"})
	st.AppendMessage(Message{Role: RoleTool, Tool: "log_search", Args: map[string]any{"hcp_name": "x"}, Payload: []byte(`{}`)})

	cp := st.Clone()
	cp.Draft[FieldHCPName] = "changed"
	cp.Messages[0].Args["hcp_name"] = "changed"
	cp.Messages[0].Payload[0] = '['
	cp.Messages = append(cp.Messages, Message{Role: RoleUser})

	if st.Draft[FieldHCPName] != "Dr. Sharma" {
		t.Fatal("draft shared with clone")
	}
	if st.Messages[0].Args["hcp_name"] != "x" || string(st.Messages[0].Payload) != "{}" {
		t.Fatal("message shared with clone")
	}
	if len(st.Messages) != 1 {
		t.Fatal("messages slice shared with clone")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		st   *ConversationState
		want error
	}{
		{name: "nil", st: nil, want: ErrNilState},
		{name: "empty thread", st: &ConversationState{}, want: ErrInvalidThread},
		{name: "bad role", st: &ConversationState{ThreadID: "t", Messages: []Message{{Role: "system"}}}, want: ErrInvalidMessage},
		{name: "tool without name", st: &ConversationState{ThreadID: "t", Messages: []Message{{Role: RoleTool}}}, want: ErrInvalidMessage},
		{name: "unknown field", st: &ConversationState{ThreadID: "t", Draft: Draft{"x": "y"}}, want: ErrUnknownField},
		{name: "ok", st: NewConversationState("t", time.Now()), want: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.st.Validate()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("Validate() error = %v, want %v", err, tc.want)
			}
		})
	}
}
