// Package apperr defines the closed set of error kinds that flow across
// service boundaries and their mapping to HTTP status codes.
package apperr
