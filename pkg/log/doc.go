/*
Package log provides structured logging for patchfs using zerolog.

The log package wraps zerolog to provide JSON or console structured logging
with component-specific child loggers, configurable severity levels, and
helper functions for the common logging patterns used across the patch
engine, patch groups, and journal device.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│  Global Logger (zerolog.Logger), set once via log.Init()  │
	│                     │                                      │
	│  Configuration: Level, JSONOutput, Output                 │
	│                     │                                      │
	│  Component loggers: WithComponent("journal")              │
	│                      WithDevice("/dev/sdb1")               │
	│                      WithSlot(3)                           │
	│                      WithGroup("8f1c...")                  │
	└────────────────────────────────────────────────────────────┘

# Log Levels

Debug is for per-patch and per-block tracing (attach/detach, overlap
resolution); Info for transaction lifecycle (open/commit/replay); Warn for
recoverable anomalies (stale slot reclaimed, scope re-used); Error for
operations that returned one of the taxonomy errors; Fatal only at the
cmd/patchfsctl boundary, never inside pkg/patch, pkg/patchgroup, or
pkg/journal — library code returns errors or panics on invariant violations,
it never calls os.Exit.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	jlog := log.WithComponent("journal")
	jlog.Info().Int("slot", 2).Msg("transaction committed")

	plog := log.WithDevice("mem0")
	plog.Debug().Str("group_id", gid).Msg("patch group engaged")

# Integration Points

  - pkg/patch: does not log
  - pkg/patchgroup: logs group creation at Debug
  - pkg/journal: logs slot open and rollover at Debug, and failed atomic
    holds and scheduled closes at Error
  - cmd/patchfsctl: initializes the logger from the --log-level and
    --log-json flags

# Security

Never log patch payload bytes; log block numbers, offsets, and lengths only.
*/
package log
