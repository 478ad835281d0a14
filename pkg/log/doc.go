// Package log provides the process-wide structured logger for sandboxd.
//
// It wraps zerolog with component-scoped child loggers so every package
// tags its lines with where they came from (sandbox, worker, network, ...)
// without threading a logger through every call.
package log
