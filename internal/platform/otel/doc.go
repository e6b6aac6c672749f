// Package otel wires opt-in OpenTelemetry tracing for storygate services.
package otel
