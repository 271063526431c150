// Package log provides structured logging for Aisu using zerolog.
//
// A single global logger is initialized once at startup; components derive
// child loggers carrying a component field so every line can be attributed.
package log
