package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFSWorkspaceManagerCreate(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "workspaces")
	mgr, err := NewFSManager(baseDir)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	ws, err := mgr.Create(context.Background(), "ws_a")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	wantPath := filepath.Join(baseDir, "ws_a")
	if ws.Dir != wantPath {
		t.Fatalf("Create() dir = %q, want %q", ws.Dir, wantPath)
	}

	info, err := os.Stat(ws.Dir)
	if err != nil {
		t.Fatalf("Stat(workspace) error = %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("workspace path is not a directory")
	}
	if ws.ID != "ws_a" {
		t.Fatalf("Create() id = %q, want ws_a", ws.ID)
	}
}

func TestFSWorkspaceManagerCreateRefusesExisting(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	if _, err := mgr.Create(context.Background(), "ws_dup"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := mgr.Create(context.Background(), "ws_dup"); err == nil {
		t.Fatal("second Create() should fail for an existing workspace")
	}
}

func TestFSWorkspaceManagerRejectsUnsafeIDs(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	for _, id := range []string{"", "..", ".", "a/b", `a\b`, " job"} {
		if _, err := mgr.Create(context.Background(), id); err == nil {
			t.Errorf("Create(%q) should fail", id)
		}
	}
}

func TestFSWorkspaceManagerRemove(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	ws, err := mgr.Create(context.Background(), "ws_rm")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// A read-only subtree must not block removal.
	sub := filepath.Join(ws.Dir, "project", "ro")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(sub, "f.txt"), []byte("x"), 0o444); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.Chmod(sub, 0o555); err != nil {
		t.Fatalf("Chmod() error = %v", err)
	}

	// Cancelled contexts must still release the directory.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := mgr.Remove(ctx, "ws_rm"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Fatalf("workspace should be gone, err = %v", err)
	}

	if err := mgr.Remove(context.Background(), "ws_rm"); err != nil {
		t.Fatalf("Remove() of missing workspace error = %v", err)
	}
}

func TestFSWorkspaceManagerCleanup(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "workspaces")
	mgr, err := NewFSManager(baseDir)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	// ws_old was left behind by an earlier process; ws_new is an orphan
	// that is still too young to sweep.
	oldDir := filepath.Join(baseDir, "ws_old")
	newDir := filepath.Join(baseDir, "ws_new")
	for _, dir := range []string{oldDir, newDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			t.Fatalf("MkdirAll(%s) error = %v", dir, err)
		}
	}

	oldTime := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldDir, oldTime, oldTime); err != nil {
		t.Fatalf("Chtimes(old workspace) error = %v", err)
	}

	report, err := mgr.Cleanup(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if report.DeletedDirs != 1 {
		t.Fatalf("Cleanup() deleted = %d, want 1", report.DeletedDirs)
	}

	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Fatalf("old workspace should be deleted, err = %v", err)
	}
	if _, err := os.Stat(newDir); err != nil {
		t.Fatalf("new workspace should still exist, err = %v", err)
	}
}

func TestFSWorkspaceManagerCleanupSkipsInFlightWorkspace(t *testing.T) {
	mgr, err := NewFSManager(filepath.Join(t.TempDir(), "workspaces"))
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	ws, err := mgr.Create(context.Background(), "ws_live")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// A long scan writes below project/, which leaves the top-level mtime
	// untouched. Backdate it past the stale threshold.
	scannerWork := filepath.Join(ws.Dir, "project", ".scannerwork")
	if err := os.MkdirAll(scannerWork, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(scannerWork, "report-task.txt"), []byte("ceTaskId=AX1"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	old := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(ws.Dir, old, old); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	report, err := mgr.Cleanup(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if report.DeletedDirs != 0 {
		t.Fatalf("Cleanup() deleted = %d, want 0 while the job holds the workspace", report.DeletedDirs)
	}
	if _, err := os.Stat(filepath.Join(scannerWork, "report-task.txt")); err != nil {
		t.Fatalf("in-flight workspace contents should survive cleanup, err = %v", err)
	}

	// Once released, a recreated directory under the same id is an orphan again.
	if err := mgr.Remove(context.Background(), "ws_live"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := os.Mkdir(ws.Dir, 0o700); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if err := os.Chtimes(ws.Dir, old, old); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}
	report, err = mgr.Cleanup(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if report.DeletedDirs != 1 {
		t.Fatalf("Cleanup() deleted = %d, want 1 after release", report.DeletedDirs)
	}
}

func TestFSWorkspaceManagerCleanupMissingBase(t *testing.T) {
	mgr, err := NewFSManager(filepath.Join(t.TempDir(), "never-created"))
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	report, err := mgr.Cleanup(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if report.DeletedDirs != 0 {
		t.Fatalf("Cleanup() deleted = %d, want 0", report.DeletedDirs)
	}
}
