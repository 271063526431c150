package vfs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aisu-os/core/pkg/containerfs"
)

// ContentFS is the content-side capability the service composes with the
// metadata store. containerfs.ContainerFS satisfies it; tests substitute an
// in-memory tree.
type ContentFS interface {
	Stat(ctx context.Context, path string) (*containerfs.Node, error)
	Exists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, path string) ([]*containerfs.Node, error)
	Tree(ctx context.Context, path string, maxDepth int) (*containerfs.Node, error)
	Search(ctx context.Context, query, scope string) ([]*containerfs.Node, error)
	CreateFile(ctx context.Context, path string) error
	CreateDir(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	Move(ctx context.Context, source, destParent string) (string, error)
	Copy(ctx context.Context, source, dest string) error
	Delete(ctx context.Context, path string) error
	MoveToTrash(ctx context.Context, path string) (string, error)
	EmptyTrash(ctx context.Context) (int, error)
	ReadFile(ctx context.Context, path string, maxSize int64) (*containerfs.FileContent, error)
	WriteFile(ctx context.Context, path, content string) error
	GenerateUniqueName(ctx context.Context, parent, base string) (string, error)
}

var _ ContentFS = (*containerfs.ContainerFS)(nil)

// NodeResponse is the outward representation of one filesystem node.
type NodeResponse struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Path         string          `json:"path"`
	NodeType     string          `json:"node_type"`
	MimeType     string          `json:"mime_type,omitempty"`
	Size         int64           `json:"size"`
	IsTrashed    bool            `json:"is_trashed"`
	OriginalPath string          `json:"original_path,omitempty"`
	TrashedAt    *time.Time      `json:"trashed_at,omitempty"`
	DesktopX     *int            `json:"desktop_x"`
	DesktopY     *int            `json:"desktop_y"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Children     []*NodeResponse `json:"children,omitempty"`
}

// DirectoryListing is the answer to a directory listing.
type DirectoryListing struct {
	Path     string          `json:"path"`
	Node     *NodeResponse   `json:"node"`
	Children []*NodeResponse `json:"children"`
	Total    int             `json:"total"`
}

// MoveResult reports a rename, move or restore.
type MoveResult struct {
	OldPath string        `json:"old_path"`
	NewPath string        `json:"new_path"`
	Node    *NodeResponse `json:"node"`
}

// CopyResult reports a copy.
type CopyResult struct {
	SourcePath string        `json:"source_path"`
	NewPath    string        `json:"new_path"`
	Node       *NodeResponse `json:"node"`
}

// BulkFailure is one failed path in a bulk operation.
type BulkFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// BulkResult summarizes a bulk operation; bulk ops never short-circuit.
type BulkResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

// DesktopPosition is one desktop placement update.
type DesktopPosition struct {
	Path string `json:"path"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

// EmptyTrashResult reports how many nodes were purged.
type EmptyTrashResult struct {
	Deleted int `json:"deleted"`
}
