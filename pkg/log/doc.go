/*
Package log provides structured logging for amberio using zerolog.

All logs carry a timestamp and an optional set of context fields
(component, slot_id, replica, path) so a single JSON stream can be
filtered per subsystem without grepping message text.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	slotLog := log.WithSlot(42)
	slotLog.Info().Str("path", "a/b.png").Msg("head committed")

	aeLog := log.WithComponent("anti-entropy")
	aeLog.Warn().Err(err).Msg("bucket digest exchange failed")

Component loggers are cheap to create (cloning a zerolog.Context) and
are meant to be built once per long-lived object (a SlotEngine, an
AntiEntropy loop) and reused across its lifetime rather than rebuilt
per call.
*/
package log
