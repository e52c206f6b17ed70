// Package archive unpacks uploaded zip archives into a job workspace.
//
// Every entry is resolved against the extraction root before anything is
// written; entries that would land outside the root (absolute paths, ".."
// segments, drive letters) fail the whole extraction. Symlink entries are
// skipped. Unix permission bits are reapplied when the archive records them.
package archive

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ProjectDirName is the subdirectory of the workspace that receives the
// extracted tree.
const ProjectDirName = "project"

// zip "version made by" host systems that carry Unix mode bits.
const (
	creatorUnix   = 3
	creatorMacOSX = 19
)

var (
	// ErrCorrupt is returned when the payload is not a readable zip archive.
	ErrCorrupt = errors.New("archive is not a valid zip file")
	// ErrUnsafePath is returned for entries that would escape the root.
	ErrUnsafePath = errors.New("archive entry escapes extraction root")
	// ErrTooLarge is returned when an archive exceeds the configured limits.
	ErrTooLarge = errors.New("archive exceeds extraction limits")
)

// Limits bounds what a single archive may expand to. Zero means unlimited.
type Limits struct {
	MaxEntries           int
	MaxUncompressedBytes int64
}

// Extractor unpacks archives. The zero value extracts without limits and
// reapplies modes when the platform supports it.
type Extractor struct {
	Limits Limits
	// KeepModes overrides the platform capability check when non-nil.
	KeepModes *bool
}

// New returns an Extractor with the given limits.
func New(limits Limits) *Extractor {
	return &Extractor{Limits: limits}
}

// ExtractFile opens the zip at archivePath and extracts it into
// <workspaceDir>/project, returning that directory.
func (e *Extractor) ExtractFile(ctx context.Context, archivePath, workspaceDir string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat archive: %w", err)
	}
	return e.Extract(ctx, f, info.Size(), workspaceDir)
}

// Extract unpacks the zip read from r into <workspaceDir>/project.
func (e *Extractor) Extract(ctx context.Context, r io.ReaderAt, size int64, workspaceDir string) (string, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil && zr == nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	// A reader returned alongside an insecure-path error still lists every
	// entry; names are vetted below.
	if e.Limits.MaxEntries > 0 && len(zr.File) > e.Limits.MaxEntries {
		return "", fmt.Errorf("%w: %d entries (max %d)", ErrTooLarge, len(zr.File), e.Limits.MaxEntries)
	}

	root := filepath.Join(workspaceDir, ProjectDirName)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create extract directory: %w", err)
	}

	keepModes := e.keepModes()
	var (
		written int64
		dirMode []pendingMode
	)

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		rel, err := safeRelPath(f.Name)
		if err != nil {
			return "", err
		}
		if rel == "" {
			continue
		}
		target := filepath.Join(root, rel)
		if !within(root, target) {
			return "", fmt.Errorf("%w: %q", ErrUnsafePath, f.Name)
		}

		mode := f.Mode()
		recorded := hasUnixMode(f)

		switch {
		case mode&fs.ModeSymlink != 0:
			continue
		case f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/"):
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", fmt.Errorf("create directory %q: %w", rel, err)
			}
			if keepModes && recorded {
				dirMode = append(dirMode, pendingMode{path: target, mode: mode.Perm()})
			}
		default:
			n, err := extractFile(f, target, e.remaining(written))
			written += n
			if err != nil {
				return "", fmt.Errorf("extract %q: %w", rel, err)
			}
			if keepModes && recorded {
				if err := os.Chmod(target, mode.Perm()); err != nil {
					return "", fmt.Errorf("set permissions on %q: %w", rel, err)
				}
			}
		}
	}

	// Directory modes go last so a read-only directory cannot block
	// extraction of its own children. Deepest first, whatever the archive
	// order, so a parent losing search permission cannot block its subdirs.
	slices.SortStableFunc(dirMode, func(a, b pendingMode) int {
		return cmp.Compare(depth(b.path), depth(a.path))
	})
	for _, d := range dirMode {
		if err := os.Chmod(d.path, d.mode); err != nil {
			return "", fmt.Errorf("set permissions on %q: %w", d.path, err)
		}
	}

	return root, nil
}

type pendingMode struct {
	path string
	mode fs.FileMode
}

func depth(p string) int {
	return strings.Count(p, string(filepath.Separator))
}

func (e *Extractor) keepModes() bool {
	if e.KeepModes != nil {
		return *e.KeepModes
	}
	return modesSupported()
}

// remaining returns how many more bytes may be written, or -1 for unlimited.
func (e *Extractor) remaining(written int64) int64 {
	if e.Limits.MaxUncompressedBytes <= 0 {
		return -1
	}
	return e.Limits.MaxUncompressedBytes - written
}

func extractFile(f *zip.File, target string, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("create parent directory: %w", err)
	}

	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}

	var src io.Reader = rc
	if budget >= 0 {
		// Read one byte past the budget so overflow is detectable without
		// trusting the header's declared size.
		src = io.LimitReader(rc, budget+1)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write file contents: %w", err)
	}
	if budget >= 0 && n > budget {
		return n, ErrTooLarge
	}
	return n, nil
}

// safeRelPath turns a stored entry name into a clean relative path, or
// fails if the name cannot be confined to the extraction root.
func safeRelPath(name string) (string, error) {
	slashed := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(slashed, "/") || hasDriveLetter(slashed) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	cleaned := path.Clean(slashed)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return filepath.FromSlash(cleaned), nil
}

func hasDriveLetter(p string) bool {
	return len(p) >= 2 && p[1] == ':' &&
		((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func hasUnixMode(f *zip.File) bool {
	creator := f.CreatorVersion >> 8
	return (creator == creatorUnix || creator == creatorMacOSX) && f.ExternalAttrs>>16 != 0
}

// modesSupported is the single capability check for reapplying Unix
// permission bits.
func modesSupported() bool {
	return runtime.GOOS != "windows" && runtime.GOOS != "plan9"
}
