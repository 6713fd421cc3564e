// Package notifications publishes job lifecycle events to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers never branch on whether notifications are enabled. Delivery is
// retried under the default retry policy; failures are returned to callers,
// which log them and move on.
package notifications
