// Package auth maps bearer tokens to user records and implements the
// register/login flows, password hashing, and the HTTP auth middleware.
package auth
