package containerfs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aisu-os/core/pkg/runtime"
	"github.com/aisu-os/core/pkg/types"
)

// fakeRuntime interprets the exact argv shapes ContainerFS issues against an
// in-memory filesystem, standing in for the engine the way the local backend
// does in development.
type fakeRuntime struct {
	fs        map[string]*fakeEntry // container path -> entry
	execCalls int
}

type fakeEntry struct {
	isDir   bool
	content []byte
	mtime   float64
}

func newFakeRuntime(base string) *fakeRuntime {
	r := &fakeRuntime{fs: map[string]*fakeEntry{}}
	r.mkdirAll(base)
	return r
}

func (r *fakeRuntime) mkdirAll(path string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	cur := ""
	for _, p := range parts {
		cur += "/" + p
		if _, ok := r.fs[cur]; !ok {
			r.fs[cur] = &fakeEntry{isDir: true, mtime: float64(time.Now().Unix())}
		}
	}
}

func (r *fakeRuntime) children(path string) []string {
	var names []string
	prefix := path + "/"
	for p := range r.fs {
		if strings.HasPrefix(p, prefix) && !strings.Contains(p[len(prefix):], "/") {
			names = append(names, p[len(prefix):])
		}
	}
	sort.Strings(names)
	return names
}

func (r *fakeRuntime) removeTree(path string) {
	delete(r.fs, path)
	prefix := path + "/"
	for p := range r.fs {
		if strings.HasPrefix(p, prefix) {
			delete(r.fs, p)
		}
	}
}

func (r *fakeRuntime) moveTree(src, dst string) {
	moves := map[string]string{src: dst}
	prefix := src + "/"
	for p := range r.fs {
		if strings.HasPrefix(p, prefix) {
			moves[p] = dst + p[len(src):]
		}
	}
	for old, new_ := range moves {
		r.fs[new_] = r.fs[old]
		delete(r.fs, old)
	}
}

func (r *fakeRuntime) copyTree(src, dst string) {
	if e, ok := r.fs[src]; ok {
		cp := *e
		r.fs[dst] = &cp
	}
	prefix := src + "/"
	for p, e := range r.fs {
		if strings.HasPrefix(p, prefix) {
			cp := *e
			r.fs[dst+p[len(src):]] = &cp
		}
	}
}

func (r *fakeRuntime) nodeJSON(path string) map[string]interface{} {
	e := r.fs[path]
	name := path[strings.LastIndex(path, "/")+1:]
	typ := "file"
	size := int64(len(e.content))
	if e.isDir {
		typ = "directory"
		size = 0
	}
	return map[string]interface{}{
		"name": name, "path": path, "type": typ, "size": size,
		"mime_type": nil, "mtime": e.mtime, "ctime": e.mtime,
	}
}

func (r *fakeRuntime) ExecUnary(_ context.Context, _ string, argv []string, _ string, _ []string) (*runtime.ExecResult, error) {
	r.execCalls++

	ok := func(out interface{}) (*runtime.ExecResult, error) {
		data, _ := json.Marshal(out)
		return &runtime.ExecResult{Stdout: data}, nil
	}
	fail := func(out interface{}) (*runtime.ExecResult, error) {
		data, _ := json.Marshal(out)
		return &runtime.ExecResult{Stdout: data, ExitCode: 1}, nil
	}

	switch argv[0] {
	case "test":
		if _, exists := r.fs[argv[2]]; exists {
			return &runtime.ExecResult{}, nil
		}
		return &runtime.ExecResult{ExitCode: 1}, nil

	case "touch":
		parent := argv[1][:strings.LastIndex(argv[1], "/")]
		if e, exists := r.fs[parent]; !exists || !e.isDir {
			return &runtime.ExecResult{ExitCode: 1}, nil
		}
		if _, exists := r.fs[argv[1]]; !exists {
			r.fs[argv[1]] = &fakeEntry{mtime: float64(time.Now().Unix())}
		}
		return &runtime.ExecResult{}, nil

	case "mkdir":
		r.mkdirAll(argv[2])
		return &runtime.ExecResult{}, nil

	case "rm":
		r.removeTree(argv[2])
		return &runtime.ExecResult{}, nil

	case "mv":
		src := argv[1]
		dst := argv[2]
		if _, exists := r.fs[src]; !exists {
			return &runtime.ExecResult{ExitCode: 1}, nil
		}
		if strings.HasSuffix(dst, "/") {
			dst = dst + src[strings.LastIndex(src, "/")+1:]
		}
		r.moveTree(src, dst)
		return &runtime.ExecResult{}, nil

	case "cp":
		src := argv[2]
		dst := argv[3]
		if _, exists := r.fs[src]; !exists {
			return &runtime.ExecResult{ExitCode: 1}, nil
		}
		if strings.HasSuffix(dst, "/") {
			dst = dst + src[strings.LastIndex(src, "/")+1:]
		}
		r.copyTree(src, dst)
		return &runtime.ExecResult{}, nil

	case "python3":
		script, args := argv[2], argv[3:]
		switch script {
		case statScript:
			if _, exists := r.fs[args[0]]; !exists {
				return fail(map[string]string{"error": "not_found"})
			}
			return ok(r.nodeJSON(args[0]))

		case lsScript:
			e, exists := r.fs[args[0]]
			if !exists {
				return fail(map[string]string{"error": "not_found"})
			}
			if !e.isDir {
				return fail(map[string]string{"error": "not_directory"})
			}
			var result []map[string]interface{}
			names := r.children(args[0])
			sort.SliceStable(names, func(i, j int) bool {
				a, b := r.fs[args[0]+"/"+names[i]], r.fs[args[0]+"/"+names[j]]
				if a.isDir != b.isDir {
					return a.isDir
				}
				return strings.ToLower(names[i]) < strings.ToLower(names[j])
			})
			for _, name := range names {
				result = append(result, r.nodeJSON(args[0]+"/"+name))
			}
			if result == nil {
				result = []map[string]interface{}{}
			}
			return ok(result)

		case treeScript:
			if _, exists := r.fs[args[0]]; !exists {
				return fail(map[string]string{"error": "missing base"})
			}
			depth, _ := strconv.Atoi(args[1])
			root := r.nodeJSON(args[0])
			root["name"] = "/"
			root["children"] = r.treeChildren(args[0], depth, 0)
			return ok(root)

		case searchScript:
			query := strings.ToLower(args[0])
			limit, _ := strconv.Atoi(args[2])
			var result []map[string]interface{}
			var paths []string
			for p := range r.fs {
				if strings.HasPrefix(p, args[1]+"/") {
					paths = append(paths, p)
				}
			}
			sort.Strings(paths)
			for _, p := range paths {
				name := p[strings.LastIndex(p, "/")+1:]
				if strings.Contains(strings.ToLower(name), query) {
					result = append(result, r.nodeJSON(p))
					if len(result) >= limit {
						break
					}
				}
			}
			if result == nil {
				result = []map[string]interface{}{}
			}
			return ok(result)

		case readFileScript:
			e, exists := r.fs[args[0]]
			if !exists {
				return ok(map[string]string{"error": "not_found"})
			}
			if e.isDir {
				return ok(map[string]string{"error": "is_directory"})
			}
			maxSize, _ := strconv.ParseInt(args[1], 10, 64)
			if int64(len(e.content)) > maxSize {
				return ok(map[string]interface{}{"error": "too_large", "size": len(e.content)})
			}
			if !utf8.Valid(e.content) {
				return ok(map[string]string{"error": "binary_file"})
			}
			return ok(map[string]interface{}{
				"content": string(e.content), "size": len(e.content), "encoding": "utf-8",
			})

		case writeFileScript:
			content, err := base64.StdEncoding.DecodeString(args[1])
			if err != nil {
				return fail(map[string]string{"error": err.Error()})
			}
			parent := args[0][:strings.LastIndex(args[0], "/")]
			r.mkdirAll(parent)
			r.fs[args[0]] = &fakeEntry{content: content, mtime: float64(time.Now().Unix())}
			return ok(map[string]bool{"ok": true})
		}
		return nil, fmt.Errorf("unknown script")
	}
	return nil, fmt.Errorf("unknown command %q", argv[0])
}

func (r *fakeRuntime) treeChildren(path string, maxDepth, depth int) []map[string]interface{} {
	result := []map[string]interface{}{}
	if depth > maxDepth {
		return result
	}
	names := r.children(path)
	sort.SliceStable(names, func(i, j int) bool {
		a, b := r.fs[path+"/"+names[i]], r.fs[path+"/"+names[j]]
		if a.isDir != b.isDir {
			return a.isDir
		}
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	for _, name := range names {
		child := path + "/" + name
		node := r.nodeJSON(child)
		if r.fs[child].isDir {
			node["children"] = r.treeChildren(child, maxDepth, depth+1)
		}
		result = append(result, node)
	}
	return result
}

// Unused Runtime methods for these tests.
func (r *fakeRuntime) Create(context.Context, *types.ContainerSpec) (string, error) {
	return "", nil
}
func (r *fakeRuntime) Start(context.Context, string) error               { return nil }
func (r *fakeRuntime) Stop(context.Context, string, time.Duration) error { return nil }
func (r *fakeRuntime) Remove(context.Context, string) error              { return nil }
func (r *fakeRuntime) Inspect(context.Context, string) (*runtime.State, error) {
	return &runtime.State{Status: "running", Running: true}, nil
}
func (r *fakeRuntime) Logs(context.Context, string, int) (string, error) { return "", nil }
func (r *fakeRuntime) ExecStream(context.Context, string, []string, string, []string, bool) (runtime.Stream, error) {
	return nil, fmt.Errorf("not supported")
}
