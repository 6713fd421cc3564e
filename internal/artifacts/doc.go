// Package artifacts implements the content-addressed artifact version registry.
//
// The registry tracks "the thing that lives at this path over time". Every
// Register call hashes the file, derives a short time-ordered version id,
// optionally keeps an immutable byte copy under versions/<version_id><ext>,
// and appends a record to the JSON index. History is append-only: Rollback
// first records a backup of the live file, then restores the requested copy.
//
// The on-disk layout is
//
//	<root>/index.json              path -> [version records]
//	<root>/versions/<id><ext>      immutable content copies
//	<root>/index.lock              advisory lock for cross-process writers
//
// Writers are serialized in-process by a mutex and across processes by the
// lock file; the index is replaced atomically on every write.
package artifacts
