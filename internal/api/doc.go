// Package api provides the console REST client used to refill cache entries.
//
// Cache keys are resource paths relative to the REST base URL, optionally
// with a query string:
//
//	transactions            -> GET {rest_url}/transactions
//	transactions?page=2     -> GET {rest_url}/transactions?page=2
//	dashboardStats          -> GET {rest_url}/dashboardStats
//
// Requests carry the session bearer token. A 401 response yields
// ErrUnauthorized and fires the client's unauthorized hook so the session
// can be torn down.
package api
