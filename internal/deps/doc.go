// Package deps checks that the external binaries a job file invokes are
// installed and resolvable on PATH.
package deps
