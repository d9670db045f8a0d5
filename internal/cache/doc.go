// Package cache holds the response-cache contract the Invalidation Router
// depends on, plus two adapters: an in-process store whose observed entries
// refetch on invalidation, and a Redis-backed store shared between console
// instances.
package cache
