// Package sinks holds the events.Sink implementations wired by the binary.
package sinks
