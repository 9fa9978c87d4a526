package tool

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
)

// decodeArgs maps validated args onto a typed struct using json tags.
func decodeArgs[T any](args map[string]any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(args); err != nil {
		return out, fmt.Errorf("%w: %v", contractx.ErrToolSchema, err)
	}
	return out, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.DateOnly, time.RFC3339, "2006-01-02T15:04:05", "2006/01/02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not a date (want YYYY-MM-DD)", contractx.ErrToolSchema, s)
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func schemaFailure(tool string, err error) contractx.ToolResult {
	return contractx.Failure(tool, contractx.KindToolSchema, err.Error())
}

func execFailure(tool string, err error) contractx.ToolResult {
	return contractx.Failure(tool, contractx.KindToolExecution,
		fmt.Sprintf("%v: %v", contractx.ErrToolExecution, err))
}
