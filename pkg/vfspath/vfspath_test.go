package vfspath

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanCollapsesAndResolvesDots(t *testing.T) {
	cases := map[string]string{
		"/a//b/./c":   "/a/b/c",
		"/a/b/../c":   "/a/c",
		"a/b/../../c": "c",
		"../a":        "../a",
		"~":           ".",
		"~/foo":       "foo",
		"":            ".",
	}
	for in, want := range cases {
		assert.Equal(t, want, Clean(in), in)
	}
}

func TestJoinAbsoluteRightOperandWins(t *testing.T) {
	assert.Equal(t, "/b/c", Join("/a", "/b/c"))
	assert.Equal(t, "/a/b/c", Join("/a", "b", "c"))
}

func TestSplit(t *testing.T) {
	dir, name := Split("/a/b/c")
	assert.Equal(t, "/a/b", dir)
	assert.Equal(t, "c", name)

	dir, name = Split("/c")
	assert.Equal(t, "/", dir)
	assert.Equal(t, "c", name)
}

type fakeLister struct {
	children map[string][]DirEntry
	dirs     map[string]bool
}

func (f *fakeLister) Lstat(ctx context.Context, p string) (bool, bool, error) {
	p = Clean(p)
	if p == "/" {
		return true, true, nil
	}
	if f.dirs[p] {
		return true, true, nil
	}
	dir, name := Split(p)
	for _, e := range f.children[dir] {
		if e.Name == name {
			return e.IsDir, true, nil
		}
	}
	return false, false, nil
}

func (f *fakeLister) ReadDir(ctx context.Context, p string) ([]DirEntry, error) {
	return f.children[Clean(p)], nil
}

func newFixture() *fakeLister {
	f := &fakeLister{children: map[string][]DirEntry{}, dirs: map[string]bool{"/": true}}
	add := func(dir string, entries ...DirEntry) {
		f.children[dir] = entries
		for _, e := range entries {
			if e.IsDir {
				f.dirs[Join(dir, e.Name)] = true
			}
		}
	}
	add("/", DirEntry{Name: "a", IsDir: true}, DirEntry{Name: "b.txt", IsDir: false})
	add("/a", DirEntry{Name: "x.go", IsDir: false}, DirEntry{Name: "sub", IsDir: true})
	add("/a/sub", DirEntry{Name: "y.go", IsDir: false})
	return f
}

func TestGlobStarMatchesSingleLevel(t *testing.T) {
	f := newFixture()
	matches, err := Glob(context.Background(), f, "/", "*.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"/b.txt"}, matches)
}

func TestGlobDoubleStarDescendsAllLevels(t *testing.T) {
	f := newFixture()
	matches, err := Glob(context.Background(), f, "/", "**/*.go")
	require.NoError(t, err)
	sort.Strings(matches)
	assert.Equal(t, []string{"/a/sub/y.go", "/a/x.go"}, matches)
}

func TestWalkVisitsEveryDescendant(t *testing.T) {
	f := newFixture()
	var visited []string
	err := Walk(context.Background(), f, "/a", func(p string, isDir bool) error {
		visited = append(visited, p)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(visited)
	assert.Equal(t, []string{"/a", "/a/sub", "/a/sub/y.go", "/a/x.go"}, visited)
}

func TestWalkMissingRootFails(t *testing.T) {
	f := newFixture()
	err := Walk(context.Background(), f, "/nope", func(string, bool) error { return nil })
	assert.Error(t, err)
}
