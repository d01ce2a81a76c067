// Package tracing wraps OpenTelemetry so the engine can emit run, job and
// step spans without the rest of the code importing the SDK directly.
// Instrumentation lives in its own package so applications that do not need
// tracing keep it out of their build.
package tracing
