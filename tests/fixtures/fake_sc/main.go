// fake_sc stands in for sc.exe in end-to-end tests. Service states live in
// the JSON file named by FAKE_SC_STATE, e.g. {"Spooler": "RUNNING"}.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const (
	errAccessDenied   = 5
	errAlreadyRunning = 1056
	errNotRunning     = 1062
	errNotExist       = 1060
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: sc <query|stop|start|config> <service> [options]")
		return 1
	}
	path := os.Getenv("FAKE_SC_STATE")
	states, err := load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	verb, name := strings.ToLower(args[0]), args[1]
	state, ok := lookup(states, name)
	if !ok {
		return fail(errNotExist, "The specified service does not exist as an installed service.")
	}
	if state == "DENIED" {
		return fail(errAccessDenied, "Access is denied.")
	}

	switch verb {
	case "query":
		printState(name, state)
		return 0
	case "stop":
		if state == "STOPPED" {
			return fail(errNotRunning, "The service has not been started.")
		}
		state = "STOPPED"
	case "start":
		if state == "RUNNING" {
			return fail(errAlreadyRunning, "An instance of the service is already running.")
		}
		state = "RUNNING"
	case "config":
		if len(args) < 4 || !strings.EqualFold(args[2], "start=") {
			fmt.Fprintln(os.Stderr, "unsupported config options")
			return 1
		}
		fmt.Println("[SC] ChangeServiceConfig SUCCESS")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unsupported verb %q\n", verb)
		return 1
	}

	states[name] = state
	if err := save(path, states); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	printState(name, state)
	return 0
}

func lookup(states map[string]string, name string) (string, bool) {
	for k, v := range states {
		if strings.EqualFold(k, name) {
			return strings.ToUpper(v), true
		}
	}
	return "", false
}

func printState(name, state string) {
	code := 1
	if state == "RUNNING" {
		code = 4
	}
	fmt.Printf("\nSERVICE_NAME: %s\n", name)
	fmt.Printf("        TYPE               : 10  WIN32_OWN_PROCESS\n")
	fmt.Printf("        STATE              : %d  %s\n", code, state)
}

// fail prints the sc.exe failure banner and exits with the Win32 code
func fail(code int, msg string) int {
	fmt.Printf("[SC] OpenService FAILED %d:\n\n%s\n", code, msg)
	return code
}

func load(path string) (map[string]string, error) {
	states := map[string]string{}
	if path == "" {
		return states, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return states, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return states, nil
}

func save(path string, states map[string]string) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
