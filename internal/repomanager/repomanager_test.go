package repomanager

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"

	"github.com/LunchBadger/configstore/pkg/coreerr"
)

func TestCreateIsIdempotent(t *testing.T) {
	m := New(t.TempDir())
	ctx := context.Background()

	repo, key1, err := m.Create(ctx, "acme")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if repo.Name != "acme" {
		t.Errorf("repo.Name = %q, want acme", repo.Name)
	}
	if key1 == "" {
		t.Fatal("expected non-empty access key on first create")
	}
	if !m.Exists("acme") {
		t.Fatal("Exists returned false after Create")
	}

	repoAgain, key2, err := m.Create(ctx, "acme")
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if repoAgain.Path != repo.Path {
		t.Errorf("second Create path = %q, want %q", repoAgain.Path, repo.Path)
	}
	if key2 != "" {
		t.Errorf("second Create returned a key %q, want empty (unchanged repo)", key2)
	}
}

func TestCreateSetsAccessKeyAndHook(t *testing.T) {
	m := New(t.TempDir())
	repo, key, err := m.Create(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	gitRepo, err := git.PlainOpen(repo.Path)
	if err != nil {
		t.Fatalf("PlainOpen: %v", err)
	}

	got, err := AccessKey(gitRepo)
	if err != nil {
		t.Fatalf("AccessKey: %v", err)
	}
	if got != key {
		t.Errorf("AccessKey = %q, want %q", got, key)
	}

	hookPath := filepath.Join(repo.Path, ".git", "hooks", "post-receive")
	if _, err := os.Stat(hookPath); err != nil {
		t.Errorf("post-receive hook missing: %v", err)
	}
}

func TestRegenerateAccessKeyChangesKey(t *testing.T) {
	m := New(t.TempDir())
	repo, key, err := m.Create(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	gitRepo, err := git.PlainOpen(repo.Path)
	if err != nil {
		t.Fatalf("PlainOpen: %v", err)
	}

	newKey, err := RegenerateAccessKey(gitRepo)
	if err != nil {
		t.Fatalf("RegenerateAccessKey: %v", err)
	}
	if newKey == key {
		t.Error("RegenerateAccessKey returned the same key")
	}

	got, err := AccessKey(gitRepo)
	if err != nil {
		t.Fatalf("AccessKey: %v", err)
	}
	if got != newKey {
		t.Errorf("AccessKey after regenerate = %q, want %q", got, newKey)
	}
}

func TestGetMissingRepoReturnsRepoDoesNotExist(t *testing.T) {
	m := New(t.TempDir())
	_, err := m.Get("nope")
	if !coreerr.IsRepoDoesNotExist(err) {
		t.Errorf("Get on missing repo = %v, want RepoDoesNotExist", err)
	}
}

func TestListSortedAndFiltered(t *testing.T) {
	m := New(t.TempDir())
	ctx := context.Background()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, _, err := m.Create(ctx, name); err != nil {
			t.Fatalf("Create(%q): %v", name, err)
		}
	}
	// A stray non-repo directory under Root must be ignored.
	if err := os.Mkdir(filepath.Join(m.Root, "not-a-repo"), 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	repos, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(repos) != 3 {
		t.Fatalf("List returned %d repos, want 3: %+v", len(repos), repos)
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, r := range repos {
		if r.Name != want[i] {
			t.Errorf("repos[%d].Name = %q, want %q", i, r.Name, want[i])
		}
	}
}

func TestListOnMissingRootReturnsEmpty(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "does-not-exist"))
	repos, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if repos != nil {
		t.Errorf("List on missing root = %+v, want nil", repos)
	}
}

func TestRemove(t *testing.T) {
	m := New(t.TempDir())
	if _, _, err := m.Create(context.Background(), "acme"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	removed, err := m.Remove("acme")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !removed {
		t.Error("Remove reported nothing removed")
	}
	if m.Exists("acme") {
		t.Error("repo still exists after Remove")
	}

	removedAgain, err := m.Remove("acme")
	if err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if removedAgain {
		t.Error("second Remove reported something removed")
	}
}
