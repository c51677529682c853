// Package logger wraps zap for the deployer binaries.
//
// A single sugared logger is configured at startup. Every component receives
// a context and logs through the logger stored in it, so a deployment run can
// attach its name and run identifier once and have them on every line,
// including the rollback messages emitted deep inside the transaction.
package logger
