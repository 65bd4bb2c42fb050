// Package logger wraps zap with a process-wide sugared logger and
// context-scoped helpers (ToContext, FromContext, WithName, WithKV).
//
// Pipeline stages receive a context and log through it, so an
// architecture or artifact attached once with WithKV shows up on every
// line emitted below that point.
package logger
