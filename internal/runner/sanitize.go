package runner

import (
	"fmt"
	"strings"
	"unicode"
)

// ParseCommandLine splits a command line into argv (no shell).
// Quotes group words. A backslash only escapes a following quote, so
// registry and Windows paths survive unchanged.
func ParseCommandLine(command string) ([]string, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("empty command")
	}

	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)
	started := false // distinguishes "" from no argument

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		switch {
		case r == '\\' && i+1 < len(runes) && (runes[i+1] == '"' || runes[i+1] == '\'') &&
			!(inQuote && quoteChar == '\''):
			current.WriteRune(runes[i+1])
			started = true
			i++

		case inQuote:
			if r == quoteChar {
				inQuote = false
			} else {
				current.WriteRune(r)
			}

		case r == '"' || r == '\'':
			inQuote = true
			quoteChar = r
			started = true

		case unicode.IsSpace(r):
			if started {
				args = append(args, current.String())
				current.Reset()
				started = false
			}

		default:
			current.WriteRune(r)
			started = true
		}
	}

	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}
	if started {
		args = append(args, current.String())
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("no arguments found in command")
	}

	return args, nil
}

// ValidateCommandSafety rejects shell operators outside quotes. Nothing here
// runs through a shell, so a pipe would silently become a literal argument.
func ValidateCommandSafety(command string) error {
	if strings.Contains(command, "`") {
		return fmt.Errorf("shell operators not supported: found backtick (%q); pass argv directly without shell interpretation", "`")
	}

	shellPatterns := []struct {
		pattern string
		desc    string
	}{
		{" | ", "pipe operator"},
		{" && ", "AND operator"},
		{" || ", "OR operator"},
		{" & ", "command separator"},
		{" ; ", "command separator"},
		{" > ", "output redirect"},
		{" >> ", "append redirect"},
		{" < ", "input redirect"},
		{" 2> ", "error redirect"},
	}

	inQuote := false
	quoteChar := rune(0)
	unquoted := &strings.Builder{}

	for _, r := range command {
		if inQuote {
			if r == quoteChar {
				inQuote = false
			}
			continue
		}
		if r == '"' || r == '\'' {
			inQuote = true
			quoteChar = r
			continue
		}
		unquoted.WriteRune(r)
	}

	// pad so operators at either end still match
	s := " " + unquoted.String() + " "
	for _, sp := range shellPatterns {
		if strings.Contains(s, sp.pattern) {
			return fmt.Errorf("shell operators not supported: found %s (%q); pass argv directly without shell interpretation",
				sp.desc, strings.TrimSpace(sp.pattern))
		}
	}

	return nil
}
