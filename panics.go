package chain

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

// capturePanic converts a recovered panic value into the pending-error shape
// the engine propagates. The original value, a cleaned stack, and the
// goroutine id travel as metadata; if the panic value was itself an error it
// becomes the source.
func capturePanic(recovered any) *apperrors.Error {
	fullStack := make([]byte, 8096)
	n := runtime.Stack(fullStack, false)
	stack := cleanStackTrace(fullStack[:n])

	var source error
	if err, ok := recovered.(error); ok {
		source = err
	}

	return cloneChainError(ErrHandlerPanic, fmt.Sprintf("handler panic: %v", recovered), source, map[string]any{
		"panic_value":  fmt.Sprintf("%v", recovered),
		"panic_type":   fmt.Sprintf("%T", recovered),
		"goroutine_id": goroutineID(),
		"stack":        string(stack),
	})
}

func cleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	// we find the index after the panic line
	panicLineIndex := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLineIndex = i
			break
		}
	}

	// then remove everything before it
	if panicLineIndex >= 0 && panicLineIndex+2 < len(lines) {
		// remove the panic() call line & file reference line
		// panic({0x101fc1100?, 0x14000817248?})
		//         ./go/src/runtime/panic.go:785 +0x124
		lines = lines[panicLineIndex+2:]
	}

	return []byte(strings.Join(lines, "\n"))
}

func goroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	idField := strings.Fields(strings.TrimPrefix(string(buf), "goroutine "))[0]
	id, _ := strconv.ParseUint(idField, 10, 64)
	return id
}
