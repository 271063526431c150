package containerfs

import (
	"strings"

	"github.com/aisu-os/core/pkg/apperr"
)

const (
	// MaxPathLen bounds a whole VFS path.
	MaxPathLen = 4096

	// MaxSegmentLen bounds one path segment.
	MaxSegmentLen = 255
)

// ValidatePath checks a VFS path: rooted, bounded, and free of whole ".."
// segments. The substring ".." inside a segment is permitted; only a
// traversal segment is rejected.
func ValidatePath(vfsPath string) error {
	if vfsPath == "" || vfsPath[0] != '/' {
		return apperr.New(apperr.ValidationFailed, "Path must start with /")
	}
	if len(vfsPath) > MaxPathLen {
		return apperr.New(apperr.ValidationFailed, "Path too long")
	}
	for _, segment := range strings.Split(vfsPath, "/") {
		if segment == ".." {
			return apperr.New(apperr.ValidationFailed, "Path must not contain a '..' segment")
		}
		if len(segment) > MaxSegmentLen {
			return apperr.New(apperr.ValidationFailed, "Path segment too long")
		}
	}
	return nil
}

// ValidateName checks a single node name.
func ValidateName(name string) error {
	if name == "" {
		return apperr.New(apperr.ValidationFailed, "Name must not be empty")
	}
	if len(name) > MaxSegmentLen {
		return apperr.New(apperr.ValidationFailed, "Name too long")
	}
	if strings.Contains(name, "/") {
		return apperr.New(apperr.ValidationFailed, "Name must not contain '/'")
	}
	if name == ".." || name == "." {
		return apperr.New(apperr.ValidationFailed, "Invalid name")
	}
	return nil
}

// JoinPath builds a child path under parent.
func JoinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// ParentPath returns the parent of a VFS path; the parent of "/" is "/".
func ParentPath(vfsPath string) string {
	if vfsPath == "/" {
		return "/"
	}
	idx := strings.LastIndex(vfsPath, "/")
	if idx <= 0 {
		return "/"
	}
	return vfsPath[:idx]
}

// Basename returns the last segment of a VFS path.
func Basename(vfsPath string) string {
	if vfsPath == "/" {
		return "/"
	}
	idx := strings.LastIndex(vfsPath, "/")
	return vfsPath[idx+1:]
}
