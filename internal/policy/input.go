package policy

import (
	"strings"

	"github.com/winguard/winguard/internal/models"
)

// BuildInput converts a request into the CEL `input` map. Every key is always
// present so rules can use has() only for the kind-specific sections.
func BuildInput(req models.MutationRequest) map[string]interface{} {
	input := map[string]interface{}{
		"kind":         string(req.Kind()),
		"action":       req.Describe(),
		"argv":         []interface{}{},
		"command_line": "",
	}

	switch r := req.(type) {
	case models.CommandRequest:
		input["argv"] = stringSliceToInterface(r.Argv)
		input["command_line"] = strings.ToLower(strings.Join(r.Argv, " "))
		exe := ""
		if len(r.Argv) > 0 {
			exe = executableName(r.Argv[0])
		}
		input["command"] = map[string]interface{}{
			"exe":             exe,
			"timeout_seconds": int64(r.EffectiveTimeout().Seconds()),
			"capture_output":  r.CaptureOutput,
		}
	case models.RegistryRequest:
		input["registry"] = map[string]interface{}{
			"operation":  string(r.Operation),
			"key_path":   CanonicalRegistryKey(r.KeyPath),
			"value_name": r.ValueName,
			"value_type": string(r.ValueType),
			"backup":     string(r.Backup),
		}
	case models.ServiceRequest:
		input["service"] = map[string]interface{}{
			"action": string(r.Action),
			"id":     strings.ToLower(r.ServiceID),
		}
	case models.BulkDeleteRequest:
		input["bulk_delete"] = map[string]interface{}{
			"root_path": normalizePath(r.RootPath),
			"pattern":   r.Pattern(),
		}
	}
	return input
}

// executableName strips directory and .exe, lower-cased
func executableName(argv0 string) string {
	name := strings.ToLower(argv0)
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, ".exe")
}

func stringSliceToInterface(s []string) []interface{} {
	result := make([]interface{}, len(s))
	for i, v := range s {
		result[i] = v
	}
	return result
}
