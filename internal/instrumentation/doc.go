// Package instrumentation defines the OpenTelemetry metrics emitted by the
// OAuth subsystem.
//
// Instruments are created on whatever MeterProvider the caller supplies. The
// bridge passes nil, which resolves to the global provider. Attributes never
// include token values, client secrets or OAuth state.
package instrumentation
