// Package config holds the configuration record (spec §3): a
// string-to-string mapping populated once at startup, frozen and
// freely readable thereafter.
package config

import "path/filepath"

// Recognized keys, per spec §3.
const (
	KeyDir           = "dir"
	KeyDBFilename    = "dbfilename"
	KeyPort          = "port"
	KeyReplicaOfHost = "replica_of_host"
	KeyReplicaOfPort = "replica_of_port"
)

// Config is the read-only-after-startup configuration record.
type Config map[string]string

// SnapshotPath joins dir and dbfilename the way the original implementation
// does (path join, not naive string concatenation), per SPEC_FULL.md §4.
func (c Config) SnapshotPath() string {
	dir := c[KeyDir]
	file := c[KeyDBFilename]
	if dir == "" {
		return file
	}
	return filepath.Join(dir, file)
}

// Get returns the value for key, or "" if unset.
func (c Config) Get(key string) string {
	return c[key]
}
