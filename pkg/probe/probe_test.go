package probe

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortCheckerSucceedsAgainstListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	c := NewPortChecker("tcp", ln.Addr().String())
	res := c.Check(context.Background())
	assert.Equal(t, types.OutcomeSucceeded, res.Outcome)
}

func TestPortCheckerFailsAgainstClosedPort(t *testing.T) {
	c := NewPortChecker("tcp", "127.0.0.1:1")
	res := c.Check(context.Background())
	assert.Equal(t, types.OutcomeFailed, res.Outcome)
}

func TestProcessCheckerSucceedsForSelf(t *testing.T) {
	c := &ProcessChecker{PID: os.Getpid()}
	res := c.Check(context.Background())
	assert.Equal(t, types.OutcomeSucceeded, res.Outcome)
}

func TestProcessCheckerFailsForUnlikelyPID(t *testing.T) {
	c := &ProcessChecker{PID: 999999}
	res := c.Check(context.Background())
	assert.Equal(t, types.OutcomeFailed, res.Outcome)
}

func TestSizeCheckerReportsByteCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	c := &SizeChecker{Path: path}
	res := c.Check(context.Background())
	assert.Equal(t, types.OutcomeSucceeded, res.Outcome)
	assert.Equal(t, float64(5), res.Value)
}

func TestExecCheckerSucceedsOnZeroExit(t *testing.T) {
	c := &ExecChecker{Command: []string{"true"}}
	res := c.Check(context.Background())
	assert.Equal(t, types.OutcomeSucceeded, res.Outcome)
}

func TestExecCheckerFailsOnNonZeroExit(t *testing.T) {
	c := &ExecChecker{Command: []string{"false"}}
	res := c.Check(context.Background())
	assert.Equal(t, types.OutcomeFailed, res.Outcome)
}

func TestSampleDispatchesByRuleKind(t *testing.T) {
	svc := &types.Service{PID: os.Getpid()}
	rule := &types.Rule{Kind: types.RuleKindPID}
	outcome, _, _ := Sample(context.Background(), svc, rule)
	assert.Equal(t, types.OutcomeSucceeded, outcome)
}

func TestSampleWithNoProbeReportsSucceeded(t *testing.T) {
	svc := &types.Service{}
	rule := &types.Rule{Kind: types.RuleKindCPU}
	outcome, msg, _ := Sample(context.Background(), svc, rule)
	assert.Equal(t, types.OutcomeSucceeded, outcome)
	assert.Contains(t, msg, "no probe available")
}
