package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewGuard(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name         string
		workspaceDir string
		wantErr      bool
	}{
		{name: "valid existing directory", workspaceDir: tmpDir},
		{name: "current directory", workspaceDir: "."},
		{name: "empty directory", workspaceDir: "", wantErr: true},
		{name: "non-existent directory", workspaceDir: filepath.Join(tmpDir, "missing"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard, err := NewGuard(tt.workspaceDir)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewGuard() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && guard.Root() == "" {
				t.Error("NewGuard() created guard with empty root")
			}
		})
	}
}

func TestGuard_Resolve(t *testing.T) {
	tmpDir := t.TempDir()
	guard, err := NewGuard(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create guard: %v", err)
	}
	if err := os.Mkdir(filepath.Join(tmpDir, "subdir"), 0755); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "relative existing dir", path: "subdir", want: filepath.Join(guard.Root(), "subdir")},
		{name: "relative new file", path: ".phaseguard/mission/state.json", want: filepath.Join(guard.Root(), ".phaseguard", "mission", "state.json")},
		{name: "workspace itself", path: ".", want: guard.Root()},
		{name: "dot-dot stays inside", path: "subdir/../other", want: filepath.Join(guard.Root(), "other")},
		{name: "traversal", path: "../escape", wantErr: true},
		{name: "absolute outside", path: "/etc/passwd", wantErr: true},
		{name: "empty", path: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := guard.Resolve(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Resolve(%q) = %q, want error", tt.path, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestGuard_SymlinkEscape(t *testing.T) {
	tmpDir := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(tmpDir, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	guard, err := NewGuard(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create guard: %v", err)
	}

	_, err = guard.Resolve("link/shot.png")
	if !errors.Is(err, ErrOutsideWorkspace) {
		t.Fatalf("expected ErrOutsideWorkspace, got %v", err)
	}

	guard.Allow(outside)
	if _, err := guard.Resolve("link/shot.png"); err != nil {
		t.Fatalf("allowed directory refused: %v", err)
	}
}

func TestGuard_Rel(t *testing.T) {
	tmpDir := t.TempDir()
	guard, err := NewGuard(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create guard: %v", err)
	}

	rel, err := guard.Rel(filepath.Join(tmpDir, "a", "b.txt"))
	if err != nil {
		t.Fatalf("Rel error: %v", err)
	}
	if rel != filepath.Join("a", "b.txt") {
		t.Errorf("Rel = %q", rel)
	}

	outside := t.TempDir()
	guard.Allow(outside)
	if _, err := guard.Rel(filepath.Join(outside, "x")); err == nil {
		t.Error("Rel accepted a path outside the workspace root")
	}
}
