// Package ratelimit implements fixed-window request limiting with an
// in-process backend and a Redis shared-counter backend behind one contract.
package ratelimit
