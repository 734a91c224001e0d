package config

import (
	"fmt"

	"github.com/cuemby/warden/pkg/types"
)

var serviceTypes = map[string]types.ServiceType{
	"system":     types.ServiceTypeSystem,
	"process":    types.ServiceTypeProcess,
	"file":       types.ServiceTypeFile,
	"directory":  types.ServiceTypeDirectory,
	"fifo":       types.ServiceTypeFifo,
	"filesystem": types.ServiceTypeFilesystem,
	"network":    types.ServiceTypeNetwork,
	"host":       types.ServiceTypeHost,
	"program":    types.ServiceTypeProgram,
}

func parseServiceType(s string) (types.ServiceType, error) {
	t, ok := serviceTypes[s]
	if !ok {
		return "", fmt.Errorf("unknown service type %q", s)
	}
	return t, nil
}

var ruleKinds = map[string]types.RuleKind{
	"port":              types.RuleKindPort,
	"icmp":              types.RuleKindICMP,
	"permission":        types.RuleKindPermission,
	"uid":               types.RuleKindUID,
	"gid":               types.RuleKindGID,
	"pid":               types.RuleKindPID,
	"ppid":              types.RuleKindPPID,
	"size":              types.RuleKindSize,
	"content":           types.RuleKindContent,
	"checksum":          types.RuleKindChecksum,
	"timestamp":         types.RuleKindTimestamp,
	"space":             types.RuleKindSpace,
	"cpu":               types.RuleKindCPU,
	"memory":            types.RuleKindMemory,
	"uptime":            types.RuleKindUptime,
	"link_status":      types.RuleKindLinkStatus,
	"link_speed":       types.RuleKindLinkSpeed,
	"link_saturation":  types.RuleKindLinkSaturation,
	"upload_bytes":     types.RuleKindUploadBytes,
	"download_bytes":   types.RuleKindDownloadBytes,
	"upload_packets":   types.RuleKindUploadPackets,
	"download_packets": types.RuleKindDownloadPackets,
	"process_resource": types.RuleKindProcessResource,
	"program_status":   types.RuleKindProgramStatus,
	"exec":             types.RuleKindExec,
	"instance":         types.RuleKindInstance,
}

func parseRuleKind(s string) (types.RuleKind, error) {
	k, ok := ruleKinds[s]
	if !ok {
		return 0, fmt.Errorf("unknown rule kind %q", s)
	}
	return k, nil
}

var operators = map[string]types.Operator{
	"<":       types.OpLess,
	"<=":      types.OpLessEq,
	">":       types.OpGreater,
	">=":      types.OpGreaterEq,
	"==":      types.OpEqual,
	"!=":      types.OpNotEqual,
	"changed": types.OpChanged,
}

func parseOperator(s string) (types.Operator, error) {
	if s == "" {
		return types.OpEqual, nil
	}
	op, ok := operators[s]
	if !ok {
		return "", fmt.Errorf("unknown operator %q", s)
	}
	return op, nil
}

var actionKinds = map[string]types.ActionKind{
	"":          types.ActionNone,
	"ignore":    types.ActionIgnore,
	"alert":     types.ActionAlert,
	"restart":   types.ActionRestart,
	"stop":      types.ActionStop,
	"exec":      types.ActionExec,
	"unmonitor": types.ActionUnmonitor,
	"start":     types.ActionStart,
	"monitor":   types.ActionMonitor,
}

func parseActionKind(s string) (types.ActionKind, error) {
	k, ok := actionKinds[s]
	if !ok {
		return "", fmt.Errorf("unknown action kind %q", s)
	}
	return k, nil
}
