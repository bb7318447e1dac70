// Package logging builds the slog loggers cratetrail commands share.
//
// Operators read a console line per record on stderr, with the batch and
// crate codes pulled to the front; the log directory gets a JSON copy that
// internal/logs tails. Context helpers carry the correlation ID, the acting
// operator and the batch being worked on, and WarnWithContext makes every
// warning name an event type, a hint and an impact.
package logging
