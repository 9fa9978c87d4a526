package orchestratornode

import (
	"context"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"
)

const (
	PhaseAwaitingDecision = "AWAITING_DECISION"
	PhaseExecutingTool    = "EXECUTING_TOOL"
	PhaseMergingResult    = "MERGING_RESULT"
	PhaseResponding       = "RESPONDING"
	PhaseAborted          = "ABORTED"
)

const (
	EventReply      = "reply"
	EventCallTool   = "call_tool"
	EventToolDone   = "tool_done"
	EventMerged     = "merged"
	EventCycleLimit = "cycle_limit"
	EventAbort      = "abort"
)

func phaseEvents() fsm.Events {
	return fsm.Events{
		{Name: EventReply, Src: []string{PhaseAwaitingDecision}, Dst: PhaseResponding},
		{Name: EventCallTool, Src: []string{PhaseAwaitingDecision}, Dst: PhaseExecutingTool},
		{Name: EventToolDone, Src: []string{PhaseExecutingTool}, Dst: PhaseMergingResult},
		{Name: EventMerged, Src: []string{PhaseMergingResult}, Dst: PhaseAwaitingDecision},
		{Name: EventCycleLimit, Src: []string{PhaseAwaitingDecision}, Dst: PhaseResponding},
		{
			Name: EventAbort,
			Src: []string{
				PhaseAwaitingDecision,
				PhaseExecutingTool,
				PhaseMergingResult,
			},
			Dst: PhaseAborted,
		},
	}
}

// newPhaseMachine returns the per-turn machine, starting in AWAITING_DECISION.
func newPhaseMachine(threadID string) *fsm.FSM {
	return fsm.NewFSM(
		PhaseAwaitingDecision,
		phaseEvents(),
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				log.Ctx(ctx).Debug().
					Str("thread_id", threadID).
					Str("event", e.Event).
					Str("from", e.Src).
					Str("phase", e.Dst).
					Msg("orchestration phase changed")
			},
		},
	)
}

func isTerminal(phase string) bool {
	return phase == PhaseResponding || phase == PhaseAborted
}
