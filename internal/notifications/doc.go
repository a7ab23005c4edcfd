// Package notifications delivers job lifecycle events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Enumerated event types cover the major pipeline milestones so the
// controllers and the sweeper can emit consistent, user-friendly messages
// without duplicating HTTP glue. Individual events can be suppressed through
// the notifications config section.
//
// Extend this package if you need alternative transports; all controller code
// depends only on the simple Service interface.
package notifications
