// Package dispatch delivers outbound messages (verification codes, reset
// codes, login alerts) to users through a pluggable [Sender].
//
// # Components
//
//   - [Message]: what to deliver, to whom and over which channel.
//   - [Sender]: the delivery strategy (Kafka, structured log, channel).
//   - [Dispatcher]: buffered async relay with drop-if-full semantics. Delivery
//     failures are logged and never surface to the request that caused them.
//
// # What this package must NOT do
//
//   - Decide which messages to send. The engine does that.
//   - Import waanauth or any internal package.
package dispatch
