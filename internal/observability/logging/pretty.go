package logging

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// prettyLogger writes one human-readable line per entry:
//
//	15:04:05 WARN  gate.command: blocked dangerous command argv=[format c:]
type prettyLogger struct {
	writer   io.Writer
	closer   io.Closer
	minLevel int
	mu       sync.Mutex
}

func (p *prettyLogger) line(level, component, msg string, fields map[string]any) {
	if levelPriority(level) < p.minLevel {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format("15:04:05"))
	b.WriteByte(' ')
	fmt.Fprintf(&b, "%-5s ", strings.ToUpper(level))
	b.WriteString(component)
	b.WriteString(": ")
	b.WriteString(msg)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	b.WriteByte('\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.writer, b.String())
}

func (p *prettyLogger) Debug(component, msg string, fields ...any) {
	p.line(LevelDebug, component, msg, pairsToFields(fields))
}

func (p *prettyLogger) Info(component, msg string, fields ...any) {
	p.line(LevelInfo, component, msg, pairsToFields(fields))
}

func (p *prettyLogger) Warn(component, msg string, fields ...any) {
	p.line(LevelWarn, component, msg, pairsToFields(fields))
}

func (p *prettyLogger) Error(component, msg string, fields ...any) {
	p.line(LevelError, component, msg, pairsToFields(fields))
}

// Event lines are debug-level in pretty mode; they are meant for machines.
func (p *prettyLogger) Event(ctx context.Context, event string, fields map[string]any) {
	p.line(LevelDebug, "event", eventPrefix+event, fields)
}

func (p *prettyLogger) Close() error {
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}
