// fake_reg stands in for reg.exe in end-to-end tests. Keys live in the JSON
// file named by FAKE_REG_STATE as key -> value name -> "TYPE|data".
// Exports are the JSON of one key, so export followed by import round-trips.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

type hive map[string]map[string]string

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "ERROR: Invalid syntax.")
		return 1
	}
	path := os.Getenv("FAKE_REG_STATE")
	h, err := load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	verb, key := strings.ToLower(args[0]), canonical(args[1])
	opts := parseOpts(args[2:])

	switch verb {
	case "query":
		values, ok := h[key]
		if !ok {
			return notFound()
		}
		if name, ok := opts["/v"]; ok {
			v, ok := values[strings.ToLower(name)]
			if !ok {
				return notFound()
			}
			fmt.Printf("\n%s\n    %s    %s\n", args[1], name, strings.Replace(v, "|", "    ", 1))
			return 0
		}
		fmt.Printf("\n%s\n", args[1])
		names := make([]string, 0, len(values))
		for n := range values {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Printf("    %s    %s\n", n, strings.Replace(values[n], "|", "    ", 1))
		}
		return 0

	case "add":
		if h[key] == nil {
			h[key] = map[string]string{}
		}
		typ := opts["/t"]
		if typ == "" {
			typ = "REG_SZ"
		}
		name := opts["/v"]
		if name == "" {
			name = "(Default)"
		}
		h[key][strings.ToLower(name)] = typ + "|" + opts["/d"]

	case "delete":
		values, ok := h[key]
		if !ok {
			return notFound()
		}
		if name, ok := opts["/v"]; ok {
			if _, ok := values[strings.ToLower(name)]; !ok {
				return notFound()
			}
			delete(values, strings.ToLower(name))
		} else {
			delete(h, key)
		}

	case "export":
		values, ok := h[key]
		if !ok {
			return notFound()
		}
		data, err := json.Marshal(map[string]map[string]string{key: values})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if err := os.WriteFile(args[2], data, 0600); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println("The operation completed successfully.")
		return 0

	case "import":
		data, err := os.ReadFile(args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, "ERROR: Error accessing the registry.")
			return 1
		}
		var imported hive
		if err := json.Unmarshal(data, &imported); err != nil {
			fmt.Fprintln(os.Stderr, "ERROR: Error accessing the registry.")
			return 1
		}
		for k, v := range imported {
			h[k] = v
		}

	default:
		fmt.Fprintln(os.Stderr, "ERROR: Invalid syntax.")
		return 1
	}

	if err := save(path, h); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("The operation completed successfully.")
	return 0
}

func canonical(key string) string {
	return strings.ToLower(strings.TrimRight(key, `\`))
}

// parseOpts reads "/v name /t TYPE /d data /f" style switches
func parseOpts(args []string) map[string]string {
	opts := map[string]string{}
	for i := 0; i < len(args); i++ {
		sw := strings.ToLower(args[i])
		switch sw {
		case "/v", "/t", "/d":
			if i+1 < len(args) {
				opts[sw] = args[i+1]
				i++
			}
		default:
			opts[sw] = ""
		}
	}
	return opts
}

func notFound() int {
	fmt.Fprintln(os.Stderr, "ERROR: The system was unable to find the specified registry key or value.")
	return 1
}

func load(path string) (hive, error) {
	h := hive{}
	if path == "" {
		return h, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return h, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return h, nil
}

func save(path string, h hive) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
