// Package database opens the PostgreSQL pool used by the Postgres flag store.
package database
