package durable

import (
	"fmt"
	"runtime"
	"strings"
)

// Panic is a recovered panic value together with a trimmed stack trace.
type Panic struct {
	Value any
	Stack string
}

func (p *Panic) Error() string {
	if err, ok := p.Value.(error); ok {
		return fmt.Sprintf("panic: %v", err)
	}
	return fmt.Sprintf("panic: %v", p.Value)
}

// Unwrap exposes the panic value when it was an error.
func (p *Panic) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

// CapturePanic must be deferred directly. It converts a panic into a *Panic
// handed to onPanic.
//
//	defer durable.CapturePanic(func(p *durable.Panic) { ... })
func CapturePanic(onPanic func(*Panic)) {
	r := recover()
	if r == nil {
		return
	}
	if onPanic != nil {
		onPanic(NewPanic(r))
	}
}

// NewPanic captures the current stack for a recovered value.
func NewPanic(value any) *Panic {
	fullStack := make([]byte, 8096)
	n := runtime.Stack(fullStack, false)
	return &Panic{
		Value: value,
		Stack: string(cleanStackTrace(fullStack[:n])),
	}
}

func cleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	panicLineIndex := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLineIndex = i
			break
		}
	}

	// drop the panic() frame and its file reference line
	if panicLineIndex >= 0 && panicLineIndex+2 < len(lines) {
		lines = lines[panicLineIndex+2:]
	}

	return []byte(strings.TrimSpace(strings.Join(lines, "\n")))
}
