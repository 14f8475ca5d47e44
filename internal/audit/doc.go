// Package audit relays security-relevant engine outcomes (logins, refresh
// reuse, MFA changes, password resets) to a [Sink].
//
// The [Dispatcher] is a buffered async relay with drop-if-full or
// block-if-full semantics. Sinks are provided for channels, JSON lines and
// zap. This package does not decide which events to emit; the engine does.
package audit
