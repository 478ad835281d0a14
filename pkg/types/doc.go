// Package types defines the domain model shared by the sandbox lifecycle and
// alternatives subsystem: sandbox specs, states, events, and the
// alternatives registry's GenericName/Alternative records.
package types
