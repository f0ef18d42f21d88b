// Package logx wraps zerolog behind a small stable API.
//
// Components receive a Logger value; the Service owns sinks (console, file)
// and can swap level/outputs at runtime via Apply without invalidating
// previously handed-out loggers.
package logx
