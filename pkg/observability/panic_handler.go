package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with the stack trace.
//
// Used in defer statements around background goroutines such as the
// directory file watcher:
//
//	go func() {
//	    defer observability.RecoverPanic(logger, "directory watcher")
//	    store.Watch(ctx)
//	}()
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}
