package probe

import (
	"context"
	"os"
	"strconv"

	"github.com/cuemby/warden/pkg/types"
)

// Sample runs the Checker appropriate for rule.Kind against svc and
// returns its Outcome, the message to attach to the resulting Event,
// and the sampled value (if any) for threshold-style rules. Rule kinds
// with no host-local or generic-socket probe (link/network counters,
// CPU/memory samples, checksum/content diffing) have no portable
// stdlib equivalent and report OutcomeSucceeded with a note; a real
// deployment supplies the relevant protocol- or platform-specific
// Checker through the same interface (see PortChecker's doc comment).
func Sample(ctx context.Context, svc *types.Service, rule *types.Rule) (types.Outcome, string, float64) {
	checker := checkerFor(svc, rule)
	if checker == nil {
		return types.OutcomeSucceeded, "no probe available for this rule kind", 0
	}
	res := checker.Check(ctx)
	return res.Outcome, res.Message, res.Value
}

func checkerFor(svc *types.Service, rule *types.Rule) Checker {
	switch rule.Kind {
	case types.RuleKindPort:
		return &PortChecker{Network: "tcp", Address: rule.Threshold}
	case types.RuleKindPID:
		return &ProcessChecker{PID: svc.PID, PIDFile: svc.PIDFile}
	case types.RuleKindPermission:
		want, _ := strconv.ParseUint(rule.Threshold, 8, 32)
		return &PermissionChecker{Path: svc.Path, Want: os.FileMode(want)}
	case types.RuleKindSize:
		return &SizeChecker{Path: svc.Path}
	case types.RuleKindExec, types.RuleKindProgramStatus:
		return &ExecChecker{Command: svc.StartCommand}
	default:
		return nil
	}
}
