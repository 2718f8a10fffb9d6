// Package observability provides structured logging, context propagation, and
// Prometheus metrics for the report pipeline service.
package observability
