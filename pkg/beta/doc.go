// Package beta implements the single-use invite token flow consumed by
// registration when beta gating is enabled.
package beta
