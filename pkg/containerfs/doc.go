// Package containerfs implements every content-side filesystem operation by
// executing short programs inside the user's container through the runtime
// adapter. It owns VFS path validation and translation; inputs reach the
// embedded programs as argv or base64 data, never as interpolated text.
package containerfs
