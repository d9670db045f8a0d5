// Package flagstore persists the "live updates disabled" flag across restarts.
//
// The flag is written when the connection manager exhausts its retries and
// cleared on the next login. Two backends exist:
//   - FileStore: a small YAML document on local disk
//   - PostgresStore: one row per scope in the livesync_flags table
package flagstore
