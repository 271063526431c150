package containerfs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aisu-os/core/pkg/apperr"
	"github.com/aisu-os/core/pkg/log"
	"github.com/aisu-os/core/pkg/runtime"
)

const (
	// TrashDir is the VFS path of the soft-delete destination.
	TrashDir = "/.Trash"

	// DefaultMaxReadSize bounds text file reads.
	DefaultMaxReadSize = 2 * 1024 * 1024

	// SearchLimit caps search results so a broad query cannot run away.
	SearchLimit = 50

	// DefaultTreeDepth clips recursive tree listings.
	DefaultTreeDepth = 10
)

// Node is one filesystem entry as reported from inside the container, with
// its path already translated back to VFS form.
type Node struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Type     string  `json:"type"`
	Size     int64   `json:"size"`
	MimeType string  `json:"mime_type,omitempty"`
	Mtime    float64 `json:"mtime"`
	Ctime    float64 `json:"ctime"`
	Children []*Node `json:"children,omitempty"`
}

// FileContent is a decoded text file.
type FileContent struct {
	Content  string `json:"content"`
	Size     int64  `json:"size"`
	Encoding string `json:"encoding"`
}

// ContainerFS executes every content-side read and write of one user's
// filesystem inside their container, under the unprivileged account. It owns
// path translation and safety; callers speak VFS paths only.
type ContainerFS struct {
	runtime       runtime.Runtime
	containerName string
	basePath      string
	execUser      string
	logger        zerolog.Logger
}

// New creates a ContainerFS for one container. basePath is fixed for the
// session; the VFS root "/" maps onto it.
func New(rt runtime.Runtime, containerName, basePath, execUser string) *ContainerFS {
	return &ContainerFS{
		runtime:       rt,
		containerName: containerName,
		basePath:      basePath,
		execUser:      execUser,
		logger:        log.WithComponent("containerfs"),
	}
}

// toContainer translates a validated VFS path to its container path.
// Translation only prefixes, so a validated path cannot escape the root.
func (fs *ContainerFS) toContainer(vfsPath string) (string, error) {
	if err := ValidatePath(vfsPath); err != nil {
		return "", err
	}
	if vfsPath == "/" {
		return fs.basePath, nil
	}
	return fs.basePath + vfsPath, nil
}

// toVFS strips the base prefix off a container path.
func (fs *ContainerFS) toVFS(containerPath string) string {
	if containerPath == fs.basePath || containerPath == fs.basePath+"/" {
		return "/"
	}
	if strings.HasPrefix(containerPath, fs.basePath+"/") {
		return containerPath[len(fs.basePath):]
	}
	return containerPath
}

func (fs *ContainerFS) translateNode(n *Node) {
	n.Path = fs.toVFS(n.Path)
	for _, child := range n.Children {
		fs.translateNode(child)
	}
}

// execCmd runs argv inside the container and returns stdout and exit code.
func (fs *ContainerFS) execCmd(ctx context.Context, argv []string) (string, int, error) {
	result, err := fs.runtime.ExecUnary(ctx, fs.containerName, argv, fs.execUser, nil)
	if err != nil {
		return "", -1, apperr.Wrap(err, apperr.Unavailable, "Container is not reachable")
	}
	out := string(result.Stdout)
	if len(out) == 0 {
		out = string(result.Stderr)
	}
	return strings.TrimSpace(out), result.ExitCode, nil
}

// execScript runs one of the embedded programs with args passed via argv.
func (fs *ContainerFS) execScript(ctx context.Context, script string, args ...string) (string, int, error) {
	argv := append([]string{"python3", "-c", script}, args...)
	return fs.execCmd(ctx, argv)
}

// parseJSON decodes a program's stdout into v, mapping garbage to Internal.
func parseJSON(output string, v interface{}) error {
	if err := json.Unmarshal([]byte(output), v); err != nil {
		return apperr.Wrap(err, apperr.Internal, "Failed to parse filesystem response")
	}
	return nil
}

// errorDiscriminant extracts the "error" field if the document carries one.
func errorDiscriminant(output string) string {
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(output), &probe); err != nil {
		return ""
	}
	return probe.Error
}

// Stat returns the node at path, or nil when it is absent or unreadable.
func (fs *ContainerFS) Stat(ctx context.Context, vfsPath string) (*Node, error) {
	cp, err := fs.toContainer(vfsPath)
	if err != nil {
		return nil, err
	}

	out, exitCode, err := fs.execScript(ctx, statScript, cp)
	if err != nil {
		return nil, err
	}
	if exitCode != 0 {
		return nil, nil
	}

	var node Node
	if err := parseJSON(out, &node); err != nil {
		return nil, err
	}
	fs.translateNode(&node)
	if node.Path == "/" {
		node.Name = "/"
	}
	return &node, nil
}

// Exists reports whether path exists.
func (fs *ContainerFS) Exists(ctx context.Context, vfsPath string) (bool, error) {
	cp, err := fs.toContainer(vfsPath)
	if err != nil {
		return false, err
	}
	_, exitCode, err := fs.execCmd(ctx, []string{"test", "-e", cp})
	if err != nil {
		return false, err
	}
	return exitCode == 0, nil
}

// List returns the children of a directory, directories first then
// name-case-insensitive.
func (fs *ContainerFS) List(ctx context.Context, vfsPath string) ([]*Node, error) {
	cp, err := fs.toContainer(vfsPath)
	if err != nil {
		return nil, err
	}

	out, exitCode, err := fs.execScript(ctx, lsScript, cp)
	if err != nil {
		return nil, err
	}
	if exitCode != 0 {
		switch errorDiscriminant(out) {
		case "not_found":
			return nil, apperr.New(apperr.NotFound, "Directory not found: %s", vfsPath)
		case "permission_denied":
			return nil, apperr.New(apperr.Forbidden, "Permission denied: %s", vfsPath)
		case "not_directory":
			return nil, apperr.New(apperr.ValidationFailed, "Not a directory: %s", vfsPath)
		default:
			return nil, apperr.New(apperr.Internal, "Failed to list directory: %s", vfsPath)
		}
	}

	var nodes []*Node
	if err := parseJSON(out, &nodes); err != nil {
		return nil, err
	}
	for _, n := range nodes {
		fs.translateNode(n)
	}
	return nodes, nil
}

// Tree returns the whole subtree under path, clipped at maxDepth.
func (fs *ContainerFS) Tree(ctx context.Context, vfsPath string, maxDepth int) (*Node, error) {
	cp, err := fs.toContainer(vfsPath)
	if err != nil {
		return nil, err
	}
	if maxDepth <= 0 {
		maxDepth = DefaultTreeDepth
	}

	out, exitCode, err := fs.execScript(ctx, treeScript, cp, strconv.Itoa(maxDepth))
	if err != nil {
		return nil, err
	}
	if exitCode != 0 {
		return nil, apperr.New(apperr.Internal, "Failed to read filesystem tree")
	}

	var root Node
	if err := parseJSON(out, &root); err != nil {
		return nil, err
	}
	fs.translateNode(&root)
	return &root, nil
}

// Search walks scope and returns nodes whose name contains query
// case-insensitively, capped at SearchLimit.
func (fs *ContainerFS) Search(ctx context.Context, query, scopeVFS string) ([]*Node, error) {
	cp, err := fs.toContainer(scopeVFS)
	if err != nil {
		return nil, err
	}

	out, exitCode, err := fs.execScript(ctx, searchScript, query, cp, strconv.Itoa(SearchLimit))
	if err != nil {
		return nil, err
	}
	if exitCode != 0 {
		return nil, apperr.New(apperr.Internal, "Search failed")
	}

	var nodes []*Node
	if err := parseJSON(out, &nodes); err != nil {
		return nil, err
	}
	for _, n := range nodes {
		fs.translateNode(n)
	}
	return nodes, nil
}

// CreateFile creates an empty file.
func (fs *ContainerFS) CreateFile(ctx context.Context, vfsPath string) error {
	return fs.runSimple(ctx, vfsPath, "create file", func(cp string) []string {
		return []string{"touch", cp}
	})
}

// CreateDir creates a directory, with parents.
func (fs *ContainerFS) CreateDir(ctx context.Context, vfsPath string) error {
	return fs.runSimple(ctx, vfsPath, "create directory", func(cp string) []string {
		return []string{"mkdir", "-p", cp}
	})
}

func (fs *ContainerFS) runSimple(ctx context.Context, vfsPath, what string, build func(cp string) []string) error {
	cp, err := fs.toContainer(vfsPath)
	if err != nil {
		return err
	}
	out, exitCode, err := fs.execCmd(ctx, build(cp))
	if err != nil {
		return err
	}
	if exitCode != 0 {
		fs.logger.Error().Str("path", vfsPath).Int("exit", exitCode).Str("output", truncate(out, 200)).Msgf("failed to %s", what)
		return apperr.New(apperr.Internal, "Failed to %s: %s", what, vfsPath)
	}
	return nil
}

// Rename renames a node within its parent.
func (fs *ContainerFS) Rename(ctx context.Context, oldVFS, newVFS string) error {
	oldCP, err := fs.toContainer(oldVFS)
	if err != nil {
		return err
	}
	newCP, err := fs.toContainer(newVFS)
	if err != nil {
		return err
	}
	_, exitCode, err := fs.execCmd(ctx, []string{"mv", oldCP, newCP})
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return apperr.New(apperr.Internal, "Failed to rename: %s", oldVFS)
	}
	return nil
}

// Move moves source under destParent and returns the new VFS path.
func (fs *ContainerFS) Move(ctx context.Context, sourceVFS, destParentVFS string) (string, error) {
	srcCP, err := fs.toContainer(sourceVFS)
	if err != nil {
		return "", err
	}
	destCP, err := fs.toContainer(destParentVFS)
	if err != nil {
		return "", err
	}
	_, exitCode, err := fs.execCmd(ctx, []string{"mv", srcCP, destCP + "/"})
	if err != nil {
		return "", err
	}
	if exitCode != 0 {
		return "", apperr.New(apperr.Internal, "Failed to move: %s", sourceVFS)
	}
	return JoinPath(destParentVFS, Basename(sourceVFS)), nil
}

// Copy recursively copies source to the destination path, which must not
// exist yet; the copy lands under destVFS's basename.
func (fs *ContainerFS) Copy(ctx context.Context, sourceVFS, destVFS string) error {
	srcCP, err := fs.toContainer(sourceVFS)
	if err != nil {
		return err
	}
	destCP, err := fs.toContainer(destVFS)
	if err != nil {
		return err
	}
	_, exitCode, err := fs.execCmd(ctx, []string{"cp", "-r", srcCP, destCP})
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return apperr.New(apperr.Internal, "Failed to copy: %s", sourceVFS)
	}
	return nil
}

// Delete removes a node recursively. The root is protected.
func (fs *ContainerFS) Delete(ctx context.Context, vfsPath string) error {
	if vfsPath == "/" {
		return apperr.New(apperr.ValidationFailed, "Cannot delete root")
	}
	return fs.runSimple(ctx, vfsPath, "delete", func(cp string) []string {
		return []string{"rm", "-rf", cp}
	})
}

// MoveToTrash moves a node into /.Trash, suffixing the name on collision,
// and returns the trashed VFS path.
func (fs *ContainerFS) MoveToTrash(ctx context.Context, vfsPath string) (string, error) {
	if err := ValidatePath(vfsPath); err != nil {
		return "", err
	}
	if vfsPath == "/" {
		return "", apperr.New(apperr.ValidationFailed, "Cannot trash root")
	}

	if err := fs.CreateDir(ctx, TrashDir); err != nil {
		return "", err
	}

	name, err := fs.GenerateUniqueName(ctx, TrashDir, Basename(vfsPath))
	if err != nil {
		return "", err
	}
	trashVFS := JoinPath(TrashDir, name)

	srcCP, err := fs.toContainer(vfsPath)
	if err != nil {
		return "", err
	}
	trashCP, err := fs.toContainer(trashVFS)
	if err != nil {
		return "", err
	}

	_, exitCode, err := fs.execCmd(ctx, []string{"mv", srcCP, trashCP})
	if err != nil {
		return "", err
	}
	if exitCode != 0 {
		return "", apperr.New(apperr.Internal, "Failed to move to trash: %s", vfsPath)
	}
	return trashVFS, nil
}

// EmptyTrash removes every child of /.Trash and returns how many there were.
func (fs *ContainerFS) EmptyTrash(ctx context.Context) (int, error) {
	children, err := fs.List(ctx, TrashDir)
	if apperr.IsKind(err, apperr.NotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	for _, child := range children {
		if err := fs.Delete(ctx, child.Path); err != nil {
			return 0, err
		}
	}
	return len(children), nil
}

// ReadFile reads a UTF-8 text file up to maxSize bytes.
func (fs *ContainerFS) ReadFile(ctx context.Context, vfsPath string, maxSize int64) (*FileContent, error) {
	cp, err := fs.toContainer(vfsPath)
	if err != nil {
		return nil, err
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxReadSize
	}

	out, _, err := fs.execScript(ctx, readFileScript, cp, strconv.FormatInt(maxSize, 10))
	if err != nil {
		return nil, err
	}

	switch errorDiscriminant(out) {
	case "":
	case "not_found":
		return nil, apperr.New(apperr.NotFound, "File not found: %s", vfsPath)
	case "is_directory":
		return nil, apperr.New(apperr.ValidationFailed, "Path is a directory: %s", vfsPath)
	case "too_large":
		return nil, apperr.New(apperr.PayloadTooLarge, "File too large (max %d bytes)", maxSize)
	case "binary_file":
		return nil, apperr.New(apperr.UnsupportedMedia, "Binary file cannot be opened as text: %s", vfsPath)
	default:
		return nil, apperr.New(apperr.Internal, "Failed to read file: %s", vfsPath)
	}

	var content FileContent
	if err := parseJSON(out, &content); err != nil {
		return nil, err
	}
	return &content, nil
}

// WriteFile writes UTF-8 content, creating parent directories as needed.
// Content travels base64-encoded so it is never shell- or script-visible.
func (fs *ContainerFS) WriteFile(ctx context.Context, vfsPath, content string) error {
	cp, err := fs.toContainer(vfsPath)
	if err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	out, exitCode, err := fs.execScript(ctx, writeFileScript, cp, encoded)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return apperr.New(apperr.Internal, "Failed to write file: %s", vfsPath)
	}
	if disc := errorDiscriminant(out); disc != "" {
		return apperr.New(apperr.Internal, "Write failed: %s", disc)
	}
	return nil
}

// GenerateUniqueName returns base if it is free in parent, else the first
// free "base N" with N >= 2.
func (fs *ContainerFS) GenerateUniqueName(ctx context.Context, parentVFS, baseName string) (string, error) {
	if err := ValidateName(baseName); err != nil {
		return "", err
	}

	exists, err := fs.Exists(ctx, JoinPath(parentVFS, baseName))
	if err != nil {
		return "", err
	}
	if !exists {
		return baseName, nil
	}

	for counter := 2; ; counter++ {
		candidate := fmt.Sprintf("%s %d", baseName, counter)
		exists, err := fs.Exists(ctx, JoinPath(parentVFS, candidate))
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
