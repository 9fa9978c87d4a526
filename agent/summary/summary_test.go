package summary

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

func completionServer(t *testing.T, status int, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestSummarizer(t *testing.T, srv *httptest.Server) *OpenAI {
	t.Helper()
	client := openaisdk.NewClient(
		option.WithBaseURL(srv.URL),
		option.WithAPIKey("test-key"),
		option.WithMaxRetries(0),
	)
	s, err := NewOpenAI(&client, "test-model", "summarize as json")
	require.NoError(t, err)
	return s
}

var sharma = statex.Draft{
	statex.FieldHCPName:           "Dr. Sharma",
	statex.FieldOrganization:      "Ruby Hall",
	statex.FieldProductsDiscussed: "Drug X, Product Y",
	statex.FieldRawNotes:          "Met Dr. Sharma, Cardiologist, at Ruby Hall, discussed Drug X safety, follow-up next week",
	statex.FieldOutcome:           "",
}

func TestSummarizeParsesModelJSON(t *testing.T) {
	t.Parallel()

	var body map[string]any
	content := "```json\n{\"summary\":\"Met Dr. Sharma about Drug X safety.\",\"entities\":{\"hcp\":\"Dr. Sharma\",\"products\":[\"Drug X\"],\"topics\":[\"safety\"]}}\n```"
	s := newTestSummarizer(t, completionServer(t, http.StatusOK, content, &body))

	res, err := s.Summarize(context.Background(), sharma)
	require.NoError(t, err)
	assert.Equal(t, "Met Dr. Sharma about Drug X safety.", res.Summary)
	assert.JSONEq(t, `{"hcp":"Dr. Sharma","products":["Drug X"],"topics":["safety"]}`, res.EntitiesJSON)

	assert.Equal(t, "test-model", body["model"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	user := msgs[1].(map[string]any)
	assert.NotContains(t, user["content"], "outcome", "empty fields are not sent")
}

func TestSummarizeFallsBackOnInvalidJSON(t *testing.T) {
	t.Parallel()

	s := newTestSummarizer(t, completionServer(t, http.StatusOK, "Sure! Here is a summary.", nil))
	res, err := s.Summarize(context.Background(), sharma)
	require.NoError(t, err)
	assert.Equal(t, Fallback(sharma), res)
}

func TestSummarizeTransportError(t *testing.T) {
	t.Parallel()

	s := newTestSummarizer(t, completionServer(t, http.StatusInternalServerError, "", nil))
	_, err := s.Summarize(context.Background(), sharma)
	require.Error(t, err)
	assert.True(t, errors.Is(err, contractx.ErrModelInvoke))
}

func TestFallback(t *testing.T) {
	t.Parallel()

	long := statex.Draft{
		statex.FieldHCPName:  "Dr. Rao",
		statex.FieldRawNotes: strings.Repeat("word ", 100),
	}
	res := Fallback(long)
	assert.True(t, strings.HasSuffix(res.Summary, "..."))
	assert.LessOrEqual(t, len([]rune(res.Summary)), fallbackSummaryLen+3)
	assert.JSONEq(t, `{"hcp":"Dr. Rao","products":[],"topics":[]}`, res.EntitiesJSON)

	res = Fallback(statex.Draft{
		statex.FieldHCPName:           "Dr. Sharma",
		statex.FieldPurpose:           "Drug X safety",
		statex.FieldOutcome:           "agreed to trial",
		statex.FieldProductsDiscussed: "Drug X, Product Y",
	})
	assert.Equal(t, "Drug X safety. agreed to trial", res.Summary)
	assert.JSONEq(t, `{"hcp":"Dr. Sharma","products":["Drug X","Product Y"],"topics":[]}`, res.EntitiesJSON)
}

func TestNewOpenAIValidates(t *testing.T) {
	t.Parallel()

	client := openaisdk.NewClient(option.WithAPIKey("k"))
	_, err := NewOpenAI(nil, "m", "p")
	assert.ErrorIs(t, err, contractx.ErrValidation)
	_, err = NewOpenAI(&client, " ", "p")
	assert.ErrorIs(t, err, contractx.ErrValidation)
	_, err = NewOpenAI(&client, "m", "")
	assert.ErrorIs(t, err, contractx.ErrPromptMissing)
}

func TestDraftFollowUp(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := completionServer(t, http.StatusOK, "  Dear Dr. Sharma, thank you for your time.  ", &body)
	client := openaisdk.NewClient(
		option.WithBaseURL(srv.URL),
		option.WithAPIKey("test-key"),
		option.WithMaxRetries(0),
	)
	s, err := NewOpenAI(&client, "test-model", "summarize as json", WithFollowUpPrompt("draft a follow-up"))
	require.NoError(t, err)

	msg, err := s.DraftFollowUp(context.Background(), sharma)
	require.NoError(t, err)
	assert.Equal(t, "Dear Dr. Sharma, thank you for your time.", msg)

	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "draft a follow-up", msgs[0].(map[string]any)["content"])
	user := msgs[1].(map[string]any)["content"].(string)
	assert.Contains(t, user, "Dr. Sharma")
	assert.NotContains(t, user, "Ruby Hall", "only message fields are sent")
	assert.NotContains(t, user, "Cardiologist", "raw notes are not sent")
}

func TestDraftFollowUpErrors(t *testing.T) {
	t.Parallel()

	s := newTestSummarizer(t, completionServer(t, http.StatusOK, "hello", nil))
	_, err := s.DraftFollowUp(context.Background(), sharma)
	assert.ErrorIs(t, err, contractx.ErrPromptMissing)

	srv := completionServer(t, http.StatusInternalServerError, "", nil)
	client := openaisdk.NewClient(
		option.WithBaseURL(srv.URL),
		option.WithAPIKey("test-key"),
		option.WithMaxRetries(0),
	)
	s, err = NewOpenAI(&client, "test-model", "p", WithFollowUpPrompt("f"))
	require.NoError(t, err)
	_, err = s.DraftFollowUp(context.Background(), sharma)
	assert.ErrorIs(t, err, contractx.ErrModelInvoke)
}
