package containerfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aisu-os/core/pkg/apperr"
)

const testBase = "/home/aisu"

func newTestFS() (*ContainerFS, *fakeRuntime) {
	rt := newFakeRuntime(testBase)
	fs := New(rt, "aisu_test", testBase, "aisu")
	return fs, rt
}

func TestStatAndExists(t *testing.T) {
	fs, _ := newTestFS()
	ctx := context.Background()

	require.NoError(t, fs.CreateDir(ctx, "/Documents"))
	require.NoError(t, fs.CreateFile(ctx, "/Documents/note.txt"))

	node, err := fs.Stat(ctx, "/Documents/note.txt")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "note.txt", node.Name)
	assert.Equal(t, "/Documents/note.txt", node.Path)
	assert.Equal(t, "file", node.Type)

	missing, err := fs.Stat(ctx, "/nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	exists, err := fs.Exists(ctx, "/Documents")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPathSafetyBlocksContentCalls(t *testing.T) {
	fs, rt := newTestFS()
	ctx := context.Background()

	calls := []func() error{
		func() error { _, err := fs.Stat(ctx, "/a/../b"); return err },
		func() error { _, err := fs.Exists(ctx, "/.."); return err },
		func() error { _, err := fs.List(ctx, "/a/.."); return err },
		func() error { return fs.CreateFile(ctx, "/../x") },
		func() error { return fs.CreateDir(ctx, "/../x") },
		func() error { return fs.Rename(ctx, "/../x", "/y") },
		func() error { _, err := fs.Move(ctx, "/../x", "/y"); return err },
		func() error { return fs.Copy(ctx, "/x", "/..") },
		func() error { return fs.Delete(ctx, "/../x") },
		func() error { _, err := fs.MoveToTrash(ctx, "/../x"); return err },
		func() error { _, err := fs.ReadFile(ctx, "/../x", 0); return err },
		func() error { return fs.WriteFile(ctx, "/../x", "data") },
	}

	for _, call := range calls {
		err := call()
		require.Error(t, err)
		assert.Equal(t, apperr.ValidationFailed, apperr.KindOf(err))
	}
	assert.Zero(t, rt.execCalls, "no content-side call may be issued for an unsafe path")
}

func TestListSortsDirectoriesFirst(t *testing.T) {
	fs, _ := newTestFS()
	ctx := context.Background()

	require.NoError(t, fs.CreateFile(ctx, "/banana.txt"))
	require.NoError(t, fs.CreateDir(ctx, "/zebra"))
	require.NoError(t, fs.CreateFile(ctx, "/Apple.txt"))

	nodes, err := fs.List(ctx, "/")
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, "zebra", nodes[0].Name)
	assert.Equal(t, "Apple.txt", nodes[1].Name)
	assert.Equal(t, "banana.txt", nodes[2].Name)
}

func TestListErrors(t *testing.T) {
	fs, _ := newTestFS()
	ctx := context.Background()

	_, err := fs.List(ctx, "/missing")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	require.NoError(t, fs.CreateFile(ctx, "/file.txt"))
	_, err = fs.List(ctx, "/file.txt")
	assert.Equal(t, apperr.ValidationFailed, apperr.KindOf(err))
}

func TestGenerateUniqueName(t *testing.T) {
	fs, _ := newTestFS()
	ctx := context.Background()

	name, err := fs.GenerateUniqueName(ctx, "/", "report")
	require.NoError(t, err)
	assert.Equal(t, "report", name)

	require.NoError(t, fs.CreateFile(ctx, "/report"))
	name, err = fs.GenerateUniqueName(ctx, "/", "report")
	require.NoError(t, err)
	assert.Equal(t, "report 2", name)

	require.NoError(t, fs.CreateFile(ctx, "/report 2"))
	name, err = fs.GenerateUniqueName(ctx, "/", "report")
	require.NoError(t, err)
	assert.Equal(t, "report 3", name)
}

func TestMoveToTrash(t *testing.T) {
	fs, _ := newTestFS()
	ctx := context.Background()

	require.NoError(t, fs.CreateDir(ctx, "/Documents"))
	require.NoError(t, fs.CreateFile(ctx, "/Documents/a.txt"))

	trashed, err := fs.MoveToTrash(ctx, "/Documents/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "/.Trash/a.txt", trashed)

	// Same name again collides and gets suffixed.
	require.NoError(t, fs.CreateFile(ctx, "/Documents/a.txt"))
	trashed, err = fs.MoveToTrash(ctx, "/Documents/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "/.Trash/a.txt 2", trashed)

	_, err = fs.MoveToTrash(ctx, "/")
	assert.Equal(t, apperr.ValidationFailed, apperr.KindOf(err))
}

func TestEmptyTrash(t *testing.T) {
	fs, _ := newTestFS()
	ctx := context.Background()

	count, err := fs.EmptyTrash(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, fs.CreateFile(ctx, "/a.txt"))
	require.NoError(t, fs.CreateFile(ctx, "/b.txt"))
	_, err = fs.MoveToTrash(ctx, "/a.txt")
	require.NoError(t, err)
	_, err = fs.MoveToTrash(ctx, "/b.txt")
	require.NoError(t, err)

	count, err = fs.EmptyTrash(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	nodes, err := fs.List(ctx, TrashDir)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestDeleteRootProtection(t *testing.T) {
	fs, rt := newTestFS()

	err := fs.Delete(context.Background(), "/")
	assert.Equal(t, apperr.ValidationFailed, apperr.KindOf(err))
	assert.Zero(t, rt.execCalls)
}

func TestCopyIsRecursive(t *testing.T) {
	fs, _ := newTestFS()
	ctx := context.Background()

	require.NoError(t, fs.CreateDir(ctx, "/Documents/Projects"))
	require.NoError(t, fs.WriteFile(ctx, "/Documents/Projects/readme.txt", "hello"))
	require.NoError(t, fs.CreateDir(ctx, "/Desktop"))

	require.NoError(t, fs.Copy(ctx, "/Documents/Projects", "/Desktop/Projects"))

	copied, err := fs.ReadFile(ctx, "/Desktop/Projects/readme.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", copied.Content)

	// Original untouched.
	original, err := fs.ReadFile(ctx, "/Documents/Projects/readme.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", original.Content)
}

func TestReadFileErrors(t *testing.T) {
	fs, rt := newTestFS()
	ctx := context.Background()

	_, err := fs.ReadFile(ctx, "/missing.txt", 0)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	require.NoError(t, fs.CreateDir(ctx, "/dir"))
	_, err = fs.ReadFile(ctx, "/dir", 0)
	assert.Equal(t, apperr.ValidationFailed, apperr.KindOf(err))

	require.NoError(t, fs.WriteFile(ctx, "/big.txt", "0123456789"))
	_, err = fs.ReadFile(ctx, "/big.txt", 5)
	assert.Equal(t, apperr.PayloadTooLarge, apperr.KindOf(err))

	rt.fs[testBase+"/bin"] = &fakeEntry{content: []byte{0xff, 0xfe, 0x00, 0x80}}
	_, err = fs.ReadFile(ctx, "/bin", 0)
	assert.Equal(t, apperr.UnsupportedMedia, apperr.KindOf(err))
}

func TestWriteAndReadRoundTrip(t *testing.T) {
	fs, _ := newTestFS()
	ctx := context.Background()

	content := "line one\nline two\ttabbed\n\"quoted\" and 'single' and $(dollar)"
	require.NoError(t, fs.WriteFile(ctx, "/Documents/notes/deep.txt", content))

	got, err := fs.ReadFile(ctx, "/Documents/notes/deep.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, content, got.Content)
	assert.Equal(t, "utf-8", got.Encoding)
}

func TestSearchCapsResults(t *testing.T) {
	fs, _ := newTestFS()
	ctx := context.Background()

	require.NoError(t, fs.CreateDir(ctx, "/Documents"))
	for i := 0; i < SearchLimit+10; i++ {
		require.NoError(t, fs.CreateFile(ctx, JoinPath("/Documents", uniqueName("match", i))))
	}

	nodes, err := fs.Search(ctx, "MATCH", "/")
	require.NoError(t, err)
	assert.Len(t, nodes, SearchLimit)
}

func uniqueName(base string, i int) string {
	return base + "-" + string(rune('a'+i%26)) + "-" + string(rune('a'+(i/26)%26)) + "-" + string(rune('0'+i%10))
}

func TestTreeTranslatesPaths(t *testing.T) {
	fs, _ := newTestFS()
	ctx := context.Background()

	require.NoError(t, fs.CreateDir(ctx, "/Documents"))
	require.NoError(t, fs.CreateFile(ctx, "/Documents/a.txt"))

	root, err := fs.Tree(ctx, "/", 10)
	require.NoError(t, err)
	assert.Equal(t, "/", root.Path)
	require.Len(t, root.Children, 1)
	assert.Equal(t, "/Documents", root.Children[0].Path)
	require.Len(t, root.Children[0].Children, 1)
	assert.Equal(t, "/Documents/a.txt", root.Children[0].Children[0].Path)
}
