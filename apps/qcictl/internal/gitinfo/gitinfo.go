// Package gitinfo reads the commit, ref and origin of the repository the
// CLI runs in, so locally dispatched events look like ones from a forge.
package gitinfo

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

type Info struct {
	Root    string
	Commit  string
	Ref     string
	Project string
	Dirty   bool
}

// ErrNotRepository is returned when dir is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// Detect walks up from dir to the enclosing repository.
func Detect(dir string) (*Info, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotRepository
		}
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	info := &Info{}
	wt, err := repo.Worktree()
	if err == nil {
		info.Root = wt.Filesystem.Root()
		if status, err := wt.Status(); err == nil {
			info.Dirty = !status.IsClean()
		}
	}

	head, err := repo.Head()
	switch {
	case err == nil:
		info.Commit = head.Hash().String()
		if head.Name().IsBranch() || head.Name().IsTag() {
			info.Ref = head.Name().Short()
		}
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		// fresh repository without commits
	default:
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	if remote, err := repo.Remote("origin"); err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 {
			info.Project = urls[0]
		}
	}
	return info, nil
}
