// Package repomanager discovers, creates, and removes the bare repositories
// that back each producer (spec §4.B). It owns nothing beyond filesystem
// paths and initial Git setup; opened object-store handles belong to the
// gitrepo facade.
package repomanager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/google/uuid"

	"github.com/LunchBadger/configstore/pkg/coreerr"
	"github.com/LunchBadger/configstore/pkg/logger"
)

const (
	repoSuffix       = ".git"
	accessKeyConfig  = "lunchbadger.accesskey"
	postReceiveHook  = "#!/bin/bash\nexec cat\n"
)

// Repository describes a single repo managed under a Root directory.
type Repository struct {
	Name string
	Path string
}

// Manager discovers and manages bare repositories under Root.
type Manager struct {
	Root string
	log  *logger.Logger
}

// New returns a Manager rooted at root. root must be an absolute directory.
func New(root string) *Manager {
	return &Manager{
		Root: root,
		log:  logger.Get().WithFields(logger.Component("repo-manager")),
	}
}

// Path returns the on-disk path for a repository name, without checking
// existence.
func (m *Manager) Path(name string) string {
	return filepath.Join(m.Root, name+repoSuffix)
}

// Exists reports whether the repository directory is present. It does not
// validate that the directory actually contains a Git database.
func (m *Manager) Exists(name string) bool {
	info, err := os.Stat(m.Path(name))
	return err == nil && info.IsDir()
}

// List returns every repository under Root, sorted by name for a stable
// order.
func (m *Manager) List() ([]Repository, error) {
	entries, err := os.ReadDir(m.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading repo root: %w", err)
	}

	var repos []Repository
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), repoSuffix) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), repoSuffix)
		repos = append(repos, Repository{Name: name, Path: filepath.Join(m.Root, e.Name())})
	}

	sort.Slice(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })
	return repos, nil
}

// Get returns the repository with the given name, or RepoDoesNotExist.
func (m *Manager) Get(name string) (Repository, error) {
	if !m.Exists(name) {
		return Repository{}, coreerr.RepoDoesNotExist(name)
	}
	return Repository{Name: name, Path: m.Path(name)}, nil
}

// Create idempotently initializes a repository: if it already exists, it is
// returned unchanged; otherwise a bare-plus-worktree repo is initialized,
// the shared access-key and updateInstead config are set, and the
// post-receive hook is installed.
func (m *Manager) Create(ctx context.Context, name string) (Repository, string, error) {
	path := m.Path(name)

	if m.Exists(name) {
		return Repository{Name: name, Path: path}, "", nil
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return Repository{}, "", fmt.Errorf("creating repo directory: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		os.RemoveAll(path)
		return Repository{}, "", fmt.Errorf("initializing repo: %w", err)
	}

	accessKey := uuid.NewString()

	cfg, err := repo.Config()
	if err != nil {
		os.RemoveAll(path)
		return Repository{}, "", fmt.Errorf("reading repo config: %w", err)
	}
	cfg.Raw.SetOption("lunchbadger", "", "accesskey", accessKey)
	cfg.Raw.SetOption("receive", "", "denycurrentbranch", "updateInstead")
	if err := repo.SetConfig(cfg); err != nil {
		os.RemoveAll(path)
		return Repository{}, "", fmt.Errorf("writing repo config: %w", err)
	}

	if err := installPostReceiveHook(path); err != nil {
		os.RemoveAll(path)
		return Repository{}, "", fmt.Errorf("installing post-receive hook: %w", err)
	}

	m.log.Info("created repository", logger.Producer(name))

	return Repository{Name: name, Path: path}, accessKey, nil
}

// Remove recursively deletes a repository. It reports whether anything was
// actually removed.
func (m *Manager) Remove(name string) (bool, error) {
	path := m.Path(name)
	if !m.Exists(name) {
		return false, nil
	}
	if err := os.RemoveAll(path); err != nil {
		return false, fmt.Errorf("removing repo: %w", err)
	}
	m.log.Info("removed repository", logger.Producer(name))
	return true, nil
}

// RemoveAll deletes every repository under Root. Used only by tests.
func (m *Manager) RemoveAll() error {
	repos, err := m.List()
	if err != nil {
		return err
	}
	for _, r := range repos {
		if _, err := m.Remove(r.Name); err != nil {
			return err
		}
	}
	return nil
}

func installPostReceiveHook(repoPath string) error {
	hookDir := filepath.Join(repoPath, ".git", "hooks")
	if err := os.MkdirAll(hookDir, 0755); err != nil {
		return err
	}
	hookPath := filepath.Join(hookDir, "post-receive")
	return os.WriteFile(hookPath, []byte(postReceiveHook), 0775)
}

// AccessKey reads the repository's lunchbadger.accesskey value.
func AccessKey(repo *git.Repository) (string, error) {
	cfg, err := repo.Config()
	if err != nil {
		return "", fmt.Errorf("reading repo config: %w", err)
	}
	val := cfg.Raw.Section("lunchbadger").Option("accesskey")
	if val == "" {
		return "", coreerr.New(coreerr.KindGeneric, "access key not set")
	}
	return val, nil
}

// RegenerateAccessKey writes a newly generated access key and returns it.
func RegenerateAccessKey(repo *git.Repository) (string, error) {
	cfg, err := repo.Config()
	if err != nil {
		return "", fmt.Errorf("reading repo config: %w", err)
	}
	key := uuid.NewString()
	cfg.Raw.SetOption("lunchbadger", "", "accesskey", key)
	if err := repo.SetConfig(cfg); err != nil {
		return "", fmt.Errorf("writing repo config: %w", err)
	}
	return key, nil
}
