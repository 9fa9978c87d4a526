package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	nodex "github.com/tanpawarit/hcp-interaction-agent/agent/nodes/orchestrator"
)

const (
	nodeValidateRequest = "validate_request"
	nodeAcquireThread   = "acquire_thread"
	nodeLoadState       = "load_state"
	nodeBeginTurn       = "begin_turn"
	nodeRunCycles       = "run_cycles"
	nodeAbortTurn       = "abort_turn"
	nodePersistState    = "persist_state"
	nodeFinalizeTurn    = "finalize_turn"
)

func (o *Orchestrator) compileTurnGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode(nodeValidateRequest,
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeValidateRequest, err)
	}

	if err := graph.AddLambdaNode(nodeAcquireThread,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.AcquireThread(ctx, in, o.sessions)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeAcquireThread, err)
	}

	if err := graph.AddLambdaNode(nodeLoadState,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadState(ctx, in, o.sessions)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeLoadState, err)
	}

	if err := graph.AddLambdaNode(nodeBeginTurn,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.BeginTurn(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeBeginTurn, err)
	}

	if err := graph.AddLambdaNode(nodeRunCycles,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RunCycles(ctx, in, o.loop)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeRunCycles, err)
	}

	if err := graph.AddLambdaNode(nodeAbortTurn,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.AbortTurn(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeAbortTurn, err)
	}

	if err := graph.AddLambdaNode(nodePersistState,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.PersistState(ctx, in, o.sessions)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodePersistState, err)
	}

	if err := graph.AddLambdaNode(nodeFinalizeTurn,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeTurn(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeFinalizeTurn, err)
	}

	edges := [][2]string{
		{compose.START, nodeValidateRequest},
		{nodeValidateRequest, nodeAcquireThread},
		{nodeAcquireThread, nodeLoadState},
		{nodeLoadState, nodeBeginTurn},
		{nodeBeginTurn, nodeRunCycles},
		{nodeAbortTurn, nodePersistState},
		{nodePersistState, nodeFinalizeTurn},
		{nodeFinalizeTurn, compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, in *nodex.GraphState) (string, error) {
			if in.Terminal == contractx.TerminalAborted {
				return nodeAbortTurn, nil
			}
			return nodePersistState, nil
		},
		map[string]bool{nodeAbortTurn: true, nodePersistState: true},
	)
	if err := graph.AddBranch(nodeRunCycles, branch); err != nil {
		return nil, fmt.Errorf("add branch after %s: %w", nodeRunCycles, err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.handle_turn"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}
