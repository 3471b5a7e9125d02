// Package metrics exposes relay counters in the Prometheus text format.
//
// Families are built directly as client_model protobufs and written with
// expfmt, so the relay carries no collector registry of its own.
package metrics
