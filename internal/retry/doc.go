// Package retry wraps fallible operations with bounded retries and capped
// exponential backoff.
//
// A Policy is an immutable value built once per call site (usually from a
// named [retry.<name>] config table through FromConfig) and reused across
// calls. Execute, Do, and Wrap apply it. Non-retryable failures are returned
// untouched after a single attempt; exhausted failures come back as an
// *ExhaustedError that carries the original message and unwraps to the
// original error so callers can keep matching on the underlying kind.
package retry
