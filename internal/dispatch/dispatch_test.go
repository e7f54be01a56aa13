package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/px-dev/px/internal/statemachine"
)

func TestDispatchRunsRegisteredTransition(t *testing.T) {
	reg := Registry{
		statemachine.CmdStatus: func(ctx context.Context, status statemachine.ProjectStatus) (ExecutionOutcome, error) {
			return ExecutionOutcome{Message: "ok"}, nil
		},
	}
	out, err := Dispatch(context.Background(), reg, Request{Command: statemachine.CmdStatus},
		statemachine.ProjectStatus{State: statemachine.NeedsLock}, false)
	require.NoError(t, err)
	require.Equal(t, StatusOK, out.Status)
}

func TestDispatchRejectsUnknownCommand(t *testing.T) {
	reg := Registry{}
	_, err := Dispatch(context.Background(), reg, Request{Command: "bogus"}, statemachine.ProjectStatus{}, false)
	require.Error(t, err)
}

func TestDispatchRejectsDisallowedStartState(t *testing.T) {
	reg := Registry{
		statemachine.CmdInit: func(ctx context.Context, status statemachine.ProjectStatus) (ExecutionOutcome, error) {
			return ExecutionOutcome{}, nil
		},
	}
	out, err := Dispatch(context.Background(), reg, Request{Command: statemachine.CmdInit},
		statemachine.ProjectStatus{State: statemachine.Consistent}, false)
	require.Error(t, err)
	require.Equal(t, StatusUserError, out.Status)
}

func TestDispatchEnforcesFrozenMode(t *testing.T) {
	reg := Registry{
		statemachine.CmdRun: func(ctx context.Context, status statemachine.ProjectStatus) (ExecutionOutcome, error) {
			return ExecutionOutcome{}, nil
		},
	}
	_, err := Dispatch(context.Background(), reg, Request{Command: statemachine.CmdRun},
		statemachine.ProjectStatus{State: statemachine.NeedsEnv}, true)
	require.Error(t, err)
}

func TestDispatchPropagatesTransitionFailure(t *testing.T) {
	reg := Registry{
		statemachine.CmdSync: func(ctx context.Context, status statemachine.ProjectStatus) (ExecutionOutcome, error) {
			return ExecutionOutcome{Message: "boom"}, context.Canceled
		},
	}
	out, err := Dispatch(context.Background(), reg, Request{Command: statemachine.CmdSync},
		statemachine.ProjectStatus{State: statemachine.NeedsLock}, false)
	require.Error(t, err)
	require.Equal(t, StatusFailure, out.Status)
}
