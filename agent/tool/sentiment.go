package tool

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
)

const ToolSentimentAnalysis = "sentiment_analysis"

type Tone string

const (
	TonePositive Tone = "positive"
	ToneNeutral  Tone = "neutral"
	ToneNegative Tone = "negative"
)

const (
	toneThreshold  = 0.2
	trendThreshold = 0.2
)

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

type SentimentAnalysis struct{}

type sentimentArgs struct {
	Text       string   `json:"text"`
	PriorNotes []string `json:"prior_notes"`
}

type Sentiment struct {
	Tone       Tone     `json:"tone"`
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Positive   []string `json:"positive_cues,omitempty"`
	Negative   []string `json:"negative_cues,omitempty"`
}

type SentimentOutput struct {
	Sentiment
	Trend     Trend  `json:"trend,omitempty"`
	Rationale string `json:"rationale"`
}

var positiveStems = []string{
	"interest", "positiv", "receptive", "enthusias", "agree", "impress", "keen",
	"satisf", "pleas", "happ", "support", "favo", "excit", "willing",
	"apprecia", "great", "good", "convinc", "optimis", "open", "welcom",
}

var negativeStems = []string{
	"concern", "skeptic", "sceptic", "hesita", "reluct", "dissatisf", "unhapp",
	"frustrat", "complain", "declin", "refus", "worr", "negativ", "reject",
	"doubt", "resist", "annoy", "disappoint", "object", "dismiss",
}

var negators = map[string]bool{
	"not": true, "no": true, "never": true, "hardly": true, "without": true, "nor": true,
}

func (SentimentAnalysis) Spec() contractx.ToolSpec {
	return contractx.ToolSpec{
		Name: ToolSentimentAnalysis,
		Desc: "Classify the HCP's attitude in an interaction as positive, neutral or negative " +
			"with a confidence and the cues behind it. Optionally compare against earlier notes to report a trend.",
		Params: []contractx.ParamSpec{
			{Name: "text", Type: contractx.ParamString, Desc: "Interaction notes to classify; defaults to the draft notes"},
			{Name: "prior_notes", Type: contractx.ParamArray, Desc: "Earlier interaction notes with the same HCP, oldest first"},
		},
	}
}

func (SentimentAnalysis) Execute(_ context.Context, args map[string]any, tc contractx.ToolContext) contractx.ToolResult {
	in, err := decodeArgs[sentimentArgs](args)
	if err != nil {
		return schemaFailure(ToolSentimentAnalysis, err)
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		text = draftNarrative(tc.Draft)
	}
	if text == "" {
		return contractx.Failure(ToolSentimentAnalysis, contractx.KindInsufficientData,
			fmt.Sprintf("%v: no text to analyse", contractx.ErrInsufficientData))
	}

	s := AnalyzeSentiment(text)
	out := SentimentOutput{Sentiment: s}

	var rationale []string
	switch {
	case len(s.Positive)+len(s.Negative) == 0:
		rationale = append(rationale, "no sentiment cues found")
	default:
		if len(s.Positive) > 0 {
			rationale = append(rationale, "positive cues: "+strings.Join(s.Positive, ", "))
		}
		if len(s.Negative) > 0 {
			rationale = append(rationale, "negative cues: "+strings.Join(s.Negative, ", "))
		}
	}

	if len(in.PriorNotes) > 0 {
		var sum float64
		for _, n := range in.PriorNotes {
			sum += AnalyzeSentiment(n).Score
		}
		prior := sum / float64(len(in.PriorNotes))
		out.Trend = trendOf(prior, s.Score)
		rationale = append(rationale, fmt.Sprintf("%s versus %d earlier notes (avg %.2f)", out.Trend, len(in.PriorNotes), prior))
	}
	out.Rationale = strings.Join(rationale, "; ")
	return contractx.Success(ToolSentimentAnalysis, out, nil)
}

// lexWords lowercases text, expands "n't" and splits it into letter runs.
func lexWords(text string) []string {
	lowered := strings.ReplaceAll(strings.ToLower(text), "n't", " not")
	return strings.FieldsFunc(lowered, func(r rune) bool { return !unicode.IsLetter(r) })
}

// negatorBefore returns the negator within the two words before words[i].
func negatorBefore(words []string, i int) string {
	for j := max(0, i-2); j < i; j++ {
		if negators[words[j]] {
			return words[j]
		}
	}
	return ""
}

// AnalyzeSentiment scores text with the cue lexicon. A negator within the
// two preceding words flips a cue.
func AnalyzeSentiment(text string) Sentiment {
	words := lexWords(text)

	var s Sentiment
	for i, w := range words {
		polarity := 0
		switch {
		case hasStem(w, negativeStems):
			polarity = -1
		case hasStem(w, positiveStems):
			polarity = 1
		default:
			continue
		}
		cue := w
		if neg := negatorBefore(words, i); neg != "" {
			polarity = -polarity
			cue = neg + " " + w
		}
		if polarity > 0 {
			s.Positive = append(s.Positive, cue)
		} else {
			s.Negative = append(s.Negative, cue)
		}
	}

	pos, neg := len(s.Positive), len(s.Negative)
	hits := pos + neg
	if hits == 0 {
		s.Tone = ToneNeutral
		s.Confidence = 0.3
		return s
	}
	s.Score = round2(float64(pos-neg) / float64(hits))
	switch {
	case s.Score > toneThreshold:
		s.Tone = TonePositive
	case s.Score < -toneThreshold:
		s.Tone = ToneNegative
	default:
		s.Tone = ToneNeutral
	}
	s.Confidence = round2(0.5 + 0.5*math.Abs(s.Score)*math.Min(1, float64(hits)/3))
	return s
}

func hasStem(word string, stems []string) bool {
	for _, stem := range stems {
		if strings.HasPrefix(word, stem) {
			return true
		}
	}
	return false
}

func trendOf(before, after float64) Trend {
	switch d := after - before; {
	case d > trendThreshold:
		return TrendImproving
	case d < -trendThreshold:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func draftNarrative(d statex.Draft) string {
	var parts []string
	for _, f := range []string{statex.FieldRawNotes, statex.FieldKeyPoints, statex.FieldOutcome} {
		if v := strings.TrimSpace(d[f]); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n")
}
