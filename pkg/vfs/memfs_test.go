package vfs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aisu-os/core/pkg/apperr"
	"github.com/aisu-os/core/pkg/containerfs"
)

// memFS is an in-memory ContentFS used to exercise the service's
// orchestration without a container.
type memFS struct {
	entries map[string]*memEntry // VFS path -> entry
}

type memEntry struct {
	isDir   bool
	content []byte
	mtime   float64
}

func newMemFS(dirs ...string) *memFS {
	fs := &memFS{entries: map[string]*memEntry{
		"/": {isDir: true, mtime: now()},
	}}
	for _, d := range dirs {
		fs.mkdirAll(d)
	}
	return fs
}

func now() float64 {
	return float64(time.Now().Unix())
}

func (m *memFS) mkdirAll(path string) {
	if path == "/" {
		return
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	cur := ""
	for _, p := range parts {
		cur += "/" + p
		if _, ok := m.entries[cur]; !ok {
			m.entries[cur] = &memEntry{isDir: true, mtime: now()}
		}
	}
}

func (m *memFS) node(path string) *containerfs.Node {
	e := m.entries[path]
	name := containerfs.Basename(path)
	typ := "file"
	size := int64(len(e.content))
	if e.isDir {
		typ = "directory"
		size = 0
	}
	return &containerfs.Node{
		Name: name, Path: path, Type: typ, Size: size, Mtime: e.mtime, Ctime: e.mtime,
	}
}

func (m *memFS) childNames(path string) []string {
	prefix := path + "/"
	if path == "/" {
		prefix = "/"
	}
	var names []string
	for p := range m.entries {
		if p != "/" && strings.HasPrefix(p, prefix) && !strings.Contains(p[len(prefix):], "/") {
			names = append(names, p[len(prefix):])
		}
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := m.entries[containerfs.JoinPath(path, names[i])], m.entries[containerfs.JoinPath(path, names[j])]
		if a.isDir != b.isDir {
			return a.isDir
		}
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	return names
}

func (m *memFS) Stat(_ context.Context, path string) (*containerfs.Node, error) {
	if err := containerfs.ValidatePath(path); err != nil {
		return nil, err
	}
	if _, ok := m.entries[path]; !ok {
		return nil, nil
	}
	return m.node(path), nil
}

func (m *memFS) Exists(_ context.Context, path string) (bool, error) {
	if err := containerfs.ValidatePath(path); err != nil {
		return false, err
	}
	_, ok := m.entries[path]
	return ok, nil
}

func (m *memFS) List(_ context.Context, path string) ([]*containerfs.Node, error) {
	e, ok := m.entries[path]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "Directory not found: %s", path)
	}
	if !e.isDir {
		return nil, apperr.New(apperr.ValidationFailed, "Not a directory: %s", path)
	}
	nodes := []*containerfs.Node{}
	for _, name := range m.childNames(path) {
		nodes = append(nodes, m.node(containerfs.JoinPath(path, name)))
	}
	return nodes, nil
}

func (m *memFS) Tree(ctx context.Context, path string, maxDepth int) (*containerfs.Node, error) {
	if _, ok := m.entries[path]; !ok {
		return nil, apperr.New(apperr.NotFound, "Not found: %s", path)
	}
	root := m.node(path)
	if path == "/" {
		root.Name = "/"
	}
	m.fillChildren(root, maxDepth, 0)
	return root, nil
}

func (m *memFS) fillChildren(node *containerfs.Node, maxDepth, depth int) {
	if depth > maxDepth || node.Type != "directory" {
		return
	}
	for _, name := range m.childNames(node.Path) {
		child := m.node(containerfs.JoinPath(node.Path, name))
		m.fillChildren(child, maxDepth, depth+1)
		node.Children = append(node.Children, child)
	}
}

func (m *memFS) Search(_ context.Context, query, scope string) ([]*containerfs.Node, error) {
	var paths []string
	for p := range m.entries {
		if p == "/" || (scope != "/" && !strings.HasPrefix(p, scope+"/")) {
			continue
		}
		if strings.Contains(strings.ToLower(containerfs.Basename(p)), strings.ToLower(query)) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	nodes := []*containerfs.Node{}
	for _, p := range paths {
		if len(nodes) >= containerfs.SearchLimit {
			break
		}
		nodes = append(nodes, m.node(p))
	}
	return nodes, nil
}

func (m *memFS) CreateFile(_ context.Context, path string) error {
	parent := containerfs.ParentPath(path)
	if e, ok := m.entries[parent]; !ok || !e.isDir {
		return apperr.New(apperr.Internal, "Failed to create file: %s", path)
	}
	m.entries[path] = &memEntry{mtime: now()}
	return nil
}

func (m *memFS) CreateDir(_ context.Context, path string) error {
	m.mkdirAll(path)
	return nil
}

func (m *memFS) Rename(_ context.Context, oldPath, newPath string) error {
	if _, ok := m.entries[oldPath]; !ok {
		return apperr.New(apperr.Internal, "Failed to rename: %s", oldPath)
	}
	m.moveTree(oldPath, newPath)
	return nil
}

func (m *memFS) moveTree(src, dst string) {
	moves := map[string]string{src: dst}
	for p := range m.entries {
		if strings.HasPrefix(p, src+"/") {
			moves[p] = dst + p[len(src):]
		}
	}
	for old, new_ := range moves {
		m.entries[new_] = m.entries[old]
		delete(m.entries, old)
	}
}

func (m *memFS) Move(_ context.Context, source, destParent string) (string, error) {
	if _, ok := m.entries[source]; !ok {
		return "", apperr.New(apperr.Internal, "Failed to move: %s", source)
	}
	newPath := containerfs.JoinPath(destParent, containerfs.Basename(source))
	m.moveTree(source, newPath)
	return newPath, nil
}

func (m *memFS) Copy(_ context.Context, source, dest string) error {
	if _, ok := m.entries[source]; !ok {
		return apperr.New(apperr.Internal, "Failed to copy: %s", source)
	}
	cp := *m.entries[source]
	m.entries[dest] = &cp
	for p, e := range m.entries {
		if strings.HasPrefix(p, source+"/") {
			c := *e
			m.entries[dest+p[len(source):]] = &c
		}
	}
	return nil
}

func (m *memFS) Delete(_ context.Context, path string) error {
	if path == "/" {
		return apperr.New(apperr.ValidationFailed, "Cannot delete root")
	}
	delete(m.entries, path)
	for p := range m.entries {
		if strings.HasPrefix(p, path+"/") {
			delete(m.entries, p)
		}
	}
	return nil
}

func (m *memFS) MoveToTrash(ctx context.Context, path string) (string, error) {
	if path == "/" {
		return "", apperr.New(apperr.ValidationFailed, "Cannot trash root")
	}
	m.mkdirAll(containerfs.TrashDir)
	name, err := m.GenerateUniqueName(ctx, containerfs.TrashDir, containerfs.Basename(path))
	if err != nil {
		return "", err
	}
	trashed := containerfs.JoinPath(containerfs.TrashDir, name)
	m.moveTree(path, trashed)
	return trashed, nil
}

func (m *memFS) EmptyTrash(ctx context.Context) (int, error) {
	if _, ok := m.entries[containerfs.TrashDir]; !ok {
		return 0, nil
	}
	names := m.childNames(containerfs.TrashDir)
	for _, name := range names {
		if err := m.Delete(ctx, containerfs.JoinPath(containerfs.TrashDir, name)); err != nil {
			return 0, err
		}
	}
	return len(names), nil
}

func (m *memFS) ReadFile(_ context.Context, path string, maxSize int64) (*containerfs.FileContent, error) {
	e, ok := m.entries[path]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "File not found: %s", path)
	}
	if e.isDir {
		return nil, apperr.New(apperr.ValidationFailed, "Path is a directory: %s", path)
	}
	return &containerfs.FileContent{Content: string(e.content), Size: int64(len(e.content)), Encoding: "utf-8"}, nil
}

func (m *memFS) WriteFile(_ context.Context, path, content string) error {
	m.mkdirAll(containerfs.ParentPath(path))
	m.entries[path] = &memEntry{content: []byte(content), mtime: now()}
	return nil
}

func (m *memFS) GenerateUniqueName(_ context.Context, parent, base string) (string, error) {
	if _, ok := m.entries[containerfs.JoinPath(parent, base)]; !ok {
		return base, nil
	}
	for counter := 2; ; counter++ {
		candidate := fmt.Sprintf("%s %d", base, counter)
		if _, ok := m.entries[containerfs.JoinPath(parent, candidate)]; !ok {
			return candidate, nil
		}
	}
}
