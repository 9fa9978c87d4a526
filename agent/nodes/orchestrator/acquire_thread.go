package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
)

// AcquireThread takes the per-thread lease. A second turn on the same thread
// queues here until the first one finishes or its own context ends.
func AcquireThread(ctx context.Context, in *GraphState, sessions contractx.SessionStore) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Lease == nil {
		return nil, fmt.Errorf("%w: lease holder is nil", contractx.ErrValidation)
	}

	release, err := sessions.Acquire(ctx, in.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", contractx.ErrThreadBusy, err)
	}
	in.Lease.set(release)
	log.Ctx(ctx).Debug().Str("thread_id", in.ThreadID).Msg("thread lease acquired")
	return in, nil
}
