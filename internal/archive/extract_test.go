package archive

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	name string
	body string
	mode fs.FileMode // zero leaves the header without Unix mode bits
}

func buildZip(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		if e.mode != 0 {
			hdr.SetMode(e.mode)
		}
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		if !strings.HasSuffix(e.name, "/") {
			_, err = w.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func extract(t *testing.T, x *Extractor, data []byte) (string, string, error) {
	t.Helper()
	ws := filepath.Join(t.TempDir(), "ws")
	require.NoError(t, os.Mkdir(ws, 0o755))
	root, err := x.Extract(context.Background(), bytes.NewReader(data), int64(len(data)), ws)
	return ws, root, err
}

func TestExtractFilesAndDirectories(t *testing.T) {
	data := buildZip(t,
		entry{name: "src/"},
		entry{name: "src/main.go", body: "package main\n"},
		entry{name: "deep/nested/dir/file.txt", body: "hi"},
		entry{name: "./dot/./file.txt", body: "dot"},
	)

	ws, root, err := extract(t, New(Limits{}), data)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws, ProjectDirName), root)

	got, err := os.ReadFile(filepath.Join(root, "src", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(got))

	got, err = os.ReadFile(filepath.Join(root, "deep", "nested", "dir", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))

	_, err = os.Stat(filepath.Join(root, "dot", "file.txt"))
	assert.NoError(t, err)
}

func TestExtractRejectsEscapes(t *testing.T) {
	names := []string{
		"../evil.txt",
		"a/../../evil.txt",
		"/etc/evil.txt",
		`..\evil.txt`,
		`C:\evil.txt`,
		"a/b/../../../evil.txt",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			data := buildZip(t, entry{name: "ok.txt", body: "ok"}, entry{name: name, body: "pwned"})
			ws, _, err := extract(t, New(Limits{}), data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnsafePath), "err = %v", err)

			_, statErr := os.Stat(filepath.Join(filepath.Dir(ws), "evil.txt"))
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

// Every file produced by extraction lies inside the root, whatever mix of
// traversal segments the entry names contain.
func TestExtractNeverWritesOutsideRoot(t *testing.T) {
	segments := []string{"a", "b", "..", ".", "", "c.txt", `..\`, "/"}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		var parts []string
		for j := 0; j < 1+rng.Intn(5); j++ {
			parts = append(parts, segments[rng.Intn(len(segments))])
		}
		name := strings.Join(parts, "/") + "f" // always a file entry
		data := buildZip(t, entry{name: name, body: "x"})

		parent := t.TempDir()
		ws := filepath.Join(parent, "ws")
		require.NoError(t, os.Mkdir(ws, 0o755))
		root, err := New(Limits{}).Extract(context.Background(), bytes.NewReader(data), int64(len(data)), ws)
		if err != nil {
			assert.ErrorIs(t, err, ErrUnsafePath, "name %q", name)
			root = filepath.Join(ws, ProjectDirName)
		}

		require.NoError(t, filepath.Walk(parent, func(p string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return err
			}
			rel, relErr := filepath.Rel(root, p)
			require.NoError(t, relErr)
			assert.False(t, strings.HasPrefix(rel, ".."), "entry %q wrote %q outside root", name, p)
			return nil
		}))
	}
}

func TestExtractCorruptArchive(t *testing.T) {
	_, _, err := extract(t, New(Limits{}), []byte("this is not a zip"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestExtractAppliesRecordedModes(t *testing.T) {
	keep := true
	x := &Extractor{KeepModes: &keep}
	data := buildZip(t,
		entry{name: "bin/", mode: fs.ModeDir | 0o750},
		entry{name: "bin/run.sh", body: "#!/bin/sh\n", mode: 0o755},
		entry{name: "README", body: "plain"},
	)

	_, root, err := extract(t, x, data)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(root, "bin", "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o755), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(root, "bin"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o750), info.Mode().Perm())

	// No recorded mode: file keeps the default.
	info, err = os.Stat(filepath.Join(root, "README"))
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
}

func TestExtractDirModesIgnoreArchiveOrder(t *testing.T) {
	keep := true
	x := &Extractor{KeepModes: &keep}
	// The child directory is listed before a parent that loses search
	// permission.
	data := buildZip(t,
		entry{name: "a/b/", mode: fs.ModeDir | 0o750},
		entry{name: "a/b/c.txt", body: "c", mode: 0o644},
		entry{name: "a/", mode: fs.ModeDir | 0o640},
	)

	_, root, err := extract(t, x, data)
	parent := filepath.Join(root, "a")
	t.Cleanup(func() { _ = os.Chmod(parent, 0o755) })
	require.NoError(t, err)

	info, err := os.Stat(parent)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o640), info.Mode().Perm())

	require.NoError(t, os.Chmod(parent, 0o755))
	info, err = os.Stat(filepath.Join(parent, "b"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o750), info.Mode().Perm())
}

func TestExtractSkipsModesWhenUnsupported(t *testing.T) {
	keep := false
	x := &Extractor{KeepModes: &keep}
	data := buildZip(t, entry{name: "run.sh", body: "x", mode: 0o700})

	_, root, err := extract(t, x, data)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(root, "run.sh"))
	require.NoError(t, err)
	assert.NotEqual(t, fs.FileMode(0o700), info.Mode().Perm())
}

func TestExtractSkipsSymlinks(t *testing.T) {
	data := buildZip(t, entry{name: "link", body: "/etc/passwd", mode: fs.ModeSymlink | 0o777})

	_, root, err := extract(t, New(Limits{}), data)
	require.NoError(t, err)

	_, err = os.Lstat(filepath.Join(root, "link"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractLimits(t *testing.T) {
	t.Run("entries", func(t *testing.T) {
		data := buildZip(t, entry{name: "a", body: "1"}, entry{name: "b", body: "2"}, entry{name: "c", body: "3"})
		_, _, err := extract(t, New(Limits{MaxEntries: 2}), data)
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("bytes", func(t *testing.T) {
		data := buildZip(t, entry{name: "a", body: strings.Repeat("x", 600)}, entry{name: "b", body: strings.Repeat("y", 600)})
		_, _, err := extract(t, New(Limits{MaxUncompressedBytes: 1000}), data)
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("exact budget is fine", func(t *testing.T) {
		data := buildZip(t, entry{name: "a", body: strings.Repeat("x", 500)}, entry{name: "b", body: strings.Repeat("y", 500)})
		_, _, err := extract(t, New(Limits{MaxUncompressedBytes: 1000}), data)
		assert.NoError(t, err)
	})
}

func TestExtractHonoursCancellation(t *testing.T) {
	data := buildZip(t, entry{name: "a", body: "1"})
	ws := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Limits{}).Extract(ctx, bytes.NewReader(data), int64(len(data)), ws)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractFile(t *testing.T) {
	data := buildZip(t, entry{name: "hello.txt", body: "hello"})
	ws := t.TempDir()
	zipPath := filepath.Join(ws, "upload.zip")
	require.NoError(t, os.WriteFile(zipPath, data, 0o600))

	root, err := New(Limits{}).ExtractFile(context.Background(), zipPath, ws)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(root, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}
