// Package audit buffers engine events and hands them to a [Sink] on a
// single background goroutine.
//
// Sinks provided here write to a channel, a JSON line stream, a slog logger
// or an MQTT broker. [MultiSink] fans out to several of them. Deciding which
// events exist is left to the engine; this package only moves them.
package audit
