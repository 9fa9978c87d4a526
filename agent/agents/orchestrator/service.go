package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	nodex "github.com/tanpawarit/hcp-interaction-agent/agent/nodes/orchestrator"
	logx "github.com/tanpawarit/hcp-interaction-agent/pkg/logger"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidThread  = nodex.ErrInvalidThread
)

type Config struct {
	MaxCycles          int           `envconfig:"MAX_CYCLES" default:"5"`
	OracleRetries      int           `envconfig:"ORACLE_RETRIES" default:"1"`
	OracleRetryBackoff time.Duration `envconfig:"ORACLE_RETRY_BACKOFF" default:"200ms"`
	TurnTimeout        time.Duration `envconfig:"TURN_TIMEOUT" default:"60s"`
}

const defaultMaxCycles = 5

type Option func(*Orchestrator)

func WithObserver(obs nodex.Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator runs one user turn at a time per thread through the compiled
// turn graph.
type Orchestrator struct {
	sessions contractx.SessionStore
	loop     nodex.Loop
	observer nodex.Observer
	timeout  time.Duration

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now func() time.Time
}

func New(
	sessions contractx.SessionStore,
	oracle contractx.Oracle,
	tools contractx.ToolGateway,
	records contractx.RecordStore,
	cfg Config,
	opts ...Option,
) (*Orchestrator, error) {
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if oracle == nil {
		return nil, errors.New("oracle is required")
	}
	if tools == nil {
		return nil, errors.New("tool gateway is required")
	}
	if records == nil {
		return nil, errors.New("record store is required")
	}

	maxCycles := cfg.MaxCycles
	if maxCycles <= 0 {
		maxCycles = defaultMaxCycles
	}

	o := &Orchestrator{
		sessions: sessions,
		observer: nodex.NopObserver{},
		timeout:  cfg.TurnTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.loop = nodex.Loop{
		Oracle:        oracle,
		Tools:         tools,
		Records:       records,
		MaxCycles:     maxCycles,
		OracleRetries: cfg.OracleRetries,
		RetryBackoff:  cfg.OracleRetryBackoff,
		Observer:      o.observer,
	}

	graphRunner, err := o.compileTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleTurn processes one user message. The thread lease is released
// however the graph ends.
func (o *Orchestrator) HandleTurn(ctx context.Context, req contractx.TurnRequest) (contractx.TurnResponse, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	ctx = logx.WithThread(ctx, req.ThreadID)
	lease := &nodex.Lease{}
	defer lease.Release()

	started := time.Now()
	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		ThreadID: req.ThreadID,
		Text:     req.UserMessage,
		Lease:    lease,
	})
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("thread_id", req.ThreadID).Msg("turn failed")
		o.observer.ObserveTurn("error", 0, time.Since(started))
		return contractx.TurnResponse{}, err
	}

	o.observer.ObserveTurn(string(out.Response.State), out.Response.Cycles, time.Since(started))
	return out.Response, nil
}
