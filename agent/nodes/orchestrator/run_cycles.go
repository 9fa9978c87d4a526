package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
)

// Loop is everything the decision loop needs besides the turn itself.
type Loop struct {
	Oracle        contractx.Oracle
	Tools         contractx.ToolGateway
	Records       contractx.RecordStore
	MaxCycles     int
	OracleRetries int
	RetryBackoff  time.Duration
	Observer      Observer
}

// RunCycles drives AWAITING_DECISION -> EXECUTING_TOOL -> MERGING_RESULT until
// the oracle replies, the cycle budget runs out, or the oracle fails. A
// cancelled context returns an error and leaves the current cycle unmerged.
func RunCycles(ctx context.Context, in *GraphState, loop Loop) (*GraphState, error) {
	if in == nil || in.Working == nil {
		return nil, fmt.Errorf("%w: state not loaded", contractx.ErrValidation)
	}
	st := in.Working
	logger := log.Ctx(ctx).With().Str("thread_id", in.ThreadID).Logger()
	observer := loop.Observer
	if observer == nil {
		observer = NopObserver{}
	}

	phase := newPhaseMachine(in.ThreadID)
	catalog := loop.Tools.Catalog()

	for !isTerminal(phase.Current()) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if st.CycleCount >= loop.MaxCycles {
			in.CycleLimitHit = true
			in.Reply = BestEffortReply(st.Draft, in.DraftUpdates, true)
			logger.Info().Int("cycle", st.CycleCount).Msg("cycle limit reached, responding with draft")
			if err := phase.Event(ctx, EventCycleLimit); err != nil {
				return nil, err
			}
			break
		}

		decision, err := decide(ctx, loop, in, catalog)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Error().Err(err).Int("cycle", st.CycleCount).Msg("oracle failed, aborting turn")
			in.AbortErr = err
			if err := phase.Event(ctx, EventAbort); err != nil {
				return nil, err
			}
			break
		}

		switch d := decision.(type) {
		case contractx.Reply:
			in.Reply = strings.TrimSpace(d.Text)
			if in.Reply == "" {
				in.Reply = BestEffortReply(st.Draft, in.DraftUpdates, false)
			}
			if err := phase.Event(ctx, EventReply); err != nil {
				return nil, err
			}

		case contractx.ToolCall:
			if d.ID == "" {
				d.ID = uuid.NewString()
			}
			if err := phase.Event(ctx, EventCallTool); err != nil {
				return nil, err
			}
			res := loop.Tools.Execute(ctx, d, contractx.ToolContext{
				Records: loop.Records,
				Draft:   st.Draft.Clone(),
				Now:     in.Now,
			})
			if err := ctx.Err(); err != nil {
				logger.Warn().Str("tool", d.Name).Msg("turn cancelled during tool call, result discarded")
				return nil, err
			}
			observer.ObserveTool(d.Name, string(res.Status))
			if err := phase.Event(ctx, EventToolDone); err != nil {
				return nil, err
			}

			for _, k := range MergeResult(st, d, res, in.Now) {
				in.DraftUpdates[k] = st.Draft[k]
			}
			st.CycleCount++
			logger.Debug().
				Int("cycle", st.CycleCount).
				Str("tool", d.Name).
				Str("status", string(res.Status)).
				Msg("cycle merged")
			if err := phase.Event(ctx, EventMerged); err != nil {
				return nil, err
			}

		default:
			in.AbortErr = fmt.Errorf("%w: %w: unexpected decision %T",
				contractx.ErrOracleUnavailable, contractx.ErrSchemaViolation, decision)
			if err := phase.Event(ctx, EventAbort); err != nil {
				return nil, err
			}
		}
	}

	in.Terminal = contractx.TerminalState(phase.Current())
	return in, nil
}

// decide asks the oracle for the next move. Malformed answers are retried up
// to loop.OracleRetries times; any other failure is final.
func decide(ctx context.Context, loop Loop, in *GraphState, catalog []contractx.ToolSpec) (contractx.Decision, error) {
	st := in.Working
	req := contractx.DecideRequest{
		ThreadID:  in.ThreadID,
		History:   st.Clone().Messages,
		Draft:     st.Draft.Clone(),
		Tools:     catalog,
		Cycle:     st.CycleCount,
		MaxCycles: loop.MaxCycles,
		Now:       in.Now,
	}

	backoff := loop.RetryBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	retries := max(loop.OracleRetries, 0)

	var decision contractx.Decision
	err := retry.Do(ctx, retry.WithMaxRetries(uint64(retries), retry.NewConstant(backoff)), func(ctx context.Context) error {
		d, err := loop.Oracle.Decide(ctx, req)
		if err != nil {
			if errors.Is(err, contractx.ErrSchemaViolation) {
				log.Ctx(ctx).Warn().Err(err).Str("thread_id", in.ThreadID).Msg("malformed oracle output, retrying")
				return retry.RetryableError(err)
			}
			return err
		}
		if err := validateDecision(d); err != nil {
			return retry.RetryableError(err)
		}
		decision = d
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", contractx.ErrOracleUnavailable, err)
	}
	return decision, nil
}

func validateDecision(d contractx.Decision) error {
	switch v := d.(type) {
	case contractx.Reply:
		return nil
	case contractx.ToolCall:
		if strings.TrimSpace(v.Name) == "" {
			return fmt.Errorf("%w: tool call without a name", contractx.ErrSchemaViolation)
		}
		return nil
	default:
		return fmt.Errorf("%w: decision is neither reply nor tool call (%T)", contractx.ErrSchemaViolation, d)
	}
}
