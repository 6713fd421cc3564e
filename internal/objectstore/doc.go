// Package objectstore mirrors registry content copies to S3-compatible
// object storage.
//
// Store is the bucket-bound object interface; MinioStore implements it with
// minio-go and MemoryStore backs tests. Mirror layers key prefixes and
// file-level upload/download on top of any Store.
package objectstore
