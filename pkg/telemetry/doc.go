// Package telemetry wires OpenTelemetry tracing and the Prometheus registry
// served on the admin listener.
//
// Metrics records gateway operations, connections and configuration reloads.
// MeterBridge exposes instruments created through the OpenTelemetry metric
// API, such as the TLS handshake counters, on the same registry.
package telemetry
