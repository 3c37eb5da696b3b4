// Package logger wraps zap for the recipe tooling:
//   - a global sugared logger writing console lines to stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing for the --log-level flag,
//   - a line writer that forwards external tool output into the log.
//
// Every lifecycle step receives a context and logs through it, so each line carries
// the step name and the package reference it belongs to.
package logger
