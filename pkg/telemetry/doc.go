// Package telemetry wires OpenTelemetry exporters and meters for the claim
// scoring service.
//
// It centralises trace provider setup, applies service resource attributes,
// and offers enrichment helpers that attach batch and decision metadata to
// spans so operators can correlate scoring behaviour with upstream traffic.
package telemetry
