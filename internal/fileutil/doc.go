// Package fileutil hashes files and writes them atomically.
package fileutil
