package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/winguard/winguard/internal/models"
	"github.com/winguard/winguard/internal/runner"
)

// commandArgv accepts either argv after "--" or a single quoted command line.
// The single-string form is split without a shell and rejects shell operators.
func commandArgv(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no command provided. Usage: winguard exec -- <program> [args...]")
	}
	if len(args) == 1 && strings.ContainsAny(args[0], " \t") {
		if err := runner.ValidateCommandSafety(args[0]); err != nil {
			return nil, err
		}
		return runner.ParseCommandLine(args[0])
	}
	return args, nil
}

// registryFlags are shared by reg add/delete/query and policy check reg
type registryFlags struct {
	value  string
	data   string
	typ    string
	backup string
}

func (f registryFlags) request(op models.RegistryOperation, key string) (models.RegistryRequest, error) {
	if strings.TrimSpace(key) == "" {
		return models.RegistryRequest{}, fmt.Errorf("registry key path is required")
	}
	req := models.RegistryRequest{
		Operation: op,
		KeyPath:   key,
		ValueName: f.value,
		ValueData: f.data,
	}
	if op == models.RegistryAdd {
		t, err := models.ParseRegistryValueType(f.typ)
		if err != nil {
			return models.RegistryRequest{}, err
		}
		req.ValueType = t
	}
	if op != models.RegistryQuery {
		mode, err := models.ParseBackupMode(f.backup)
		if err != nil {
			return models.RegistryRequest{}, err
		}
		req.Backup = mode
	}
	return req, nil
}

func parseRegistryOperation(s string) (models.RegistryOperation, error) {
	switch models.RegistryOperation(strings.ToLower(s)) {
	case models.RegistryAdd:
		return models.RegistryAdd, nil
	case models.RegistryDelete:
		return models.RegistryDelete, nil
	case models.RegistryQuery:
		return models.RegistryQuery, nil
	}
	return "", fmt.Errorf("unknown registry operation %q (use add, delete or query)", s)
}

func parseServiceAction(s string) (models.ServiceAction, error) {
	switch models.ServiceAction(strings.ToLower(s)) {
	case models.ServiceStop:
		return models.ServiceStop, nil
	case models.ServiceStart:
		return models.ServiceStart, nil
	case models.ServiceDisable:
		return models.ServiceDisable, nil
	}
	return "", fmt.Errorf("unknown service action %q (use stop, start or disable)", s)
}

// parseRequest builds a request from positional words, as used by
// `policy check`:
//
//	exec <program> [args...]
//	reg <add|delete|query> <key>
//	svc <stop|start|disable> <name>
//	clean <root> [pattern]
func parseRequest(args []string, reg registryFlags, timeout time.Duration) (models.MutationRequest, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("request kind required: exec, reg, svc or clean")
	}
	kind, rest := strings.ToLower(args[0]), args[1:]
	switch kind {
	case "exec":
		argv, err := commandArgv(rest)
		if err != nil {
			return nil, err
		}
		return models.NewCommandRequest(argv, timeout, false), nil
	case "reg":
		if len(rest) != 2 {
			return nil, fmt.Errorf("usage: reg <add|delete|query> <key>")
		}
		op, err := parseRegistryOperation(rest[0])
		if err != nil {
			return nil, err
		}
		return reg.request(op, rest[1])
	case "svc":
		if len(rest) != 2 {
			return nil, fmt.Errorf("usage: svc <stop|start|disable> <name>")
		}
		action, err := parseServiceAction(rest[0])
		if err != nil {
			return nil, err
		}
		return models.ServiceRequest{Action: action, ServiceID: rest[1]}, nil
	case "clean":
		if len(rest) < 1 || len(rest) > 2 {
			return nil, fmt.Errorf("usage: clean <root> [pattern]")
		}
		req := models.BulkDeleteRequest{RootPath: rest[0]}
		if len(rest) == 2 {
			req.NamePattern = rest[1]
		}
		return req, nil
	}
	return nil, fmt.Errorf("unknown request kind %q (use exec, reg, svc or clean)", args[0])
}
