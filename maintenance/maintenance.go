// Package maintenance implements the process-wide sentinel that lets an
// operator silence reactive diagnostics without stopping measurement.
package maintenance

import "os"

// SentinelPath is the filesystem sentinel whose presence as a regular
// file means the mesh is in maintenance mode.
const SentinelPath = "/tmp/mehsh_maintenance"

// IsActive reports whether maintenance mode is currently on. It is a
// stateless stat of SentinelPath on every call, not a cached global:
// operators toggle the file externally and expect pickup on the very
// next event, and a stat is cheap at the sub-Hz rate callers use it.
// Any stat error (including "not exist") is interpreted as "not active".
func IsActive() bool {
	info, err := os.Stat(SentinelPath)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
