// Package testsupport holds shared helpers for package tests: temp-dir
// configs, stub binaries, file writers, and store/registry openers.
package testsupport
