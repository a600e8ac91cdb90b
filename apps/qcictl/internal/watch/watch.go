// Package watch reports batches of file changes under a directory,
// skipping paths the repository's .gitignore files exclude.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/quatton/qci/pkg/qlog"
)

type Watcher struct {
	root     string
	fs       *fsnotify.Watcher
	matcher  gitignore.Matcher
	debounce time.Duration
	logger   *qlog.Logger
}

// New watches root. Extra ignore patterns use .gitignore syntax relative
// to root.
func New(root string, debounce time.Duration, logger *qlog.Logger, ignore ...string) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	patterns, err := gitignore.ReadPatterns(osfs.New(absRoot), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read .gitignore: %w", err)
	}
	for _, p := range ignore {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		root:     absRoot,
		fs:       fw,
		matcher:  gitignore.NewMatcher(patterns),
		debounce: debounce,
		logger:   logger,
	}
	if err := w.addRecursive(absRoot); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) Close() error {
	return w.fs.Close()
}

// ignored reports whether path is inside .git or matched by .gitignore.
func (w *Watcher) ignored(path string, isDir bool) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if parts[0] == ".git" {
		return true
	}
	return w.matcher.Match(parts, isDir)
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			// vanished between the event and the walk
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path, true) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Changes emits the relative paths changed since the last batch, once no
// further change arrived for the debounce interval. The channel closes when
// ctx ends.
func (w *Watcher) Changes(ctx context.Context) <-chan []string {
	out := make(chan []string)

	go func() {
		defer close(out)

		pending := map[string]struct{}{}
		timer := time.NewTimer(w.debounce)
		timer.Stop()

		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return

			case event, ok := <-w.fs.Events:
				if !ok {
					return
				}
				info, statErr := os.Stat(event.Name)
				isDir := statErr == nil && info.IsDir()
				if w.ignored(event.Name, isDir) {
					continue
				}
				if event.Has(fsnotify.Create) && isDir {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("watch", "error", err)
					}
				}
				if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
					continue
				}
				rel, _ := filepath.Rel(w.root, event.Name)
				pending[filepath.ToSlash(rel)] = struct{}{}
				timer.Reset(w.debounce)

			case <-timer.C:
				if len(pending) == 0 {
					continue
				}
				batch := make([]string, 0, len(pending))
				for p := range pending {
					batch = append(batch, p)
				}
				sort.Strings(batch)
				pending = map[string]struct{}{}
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}

			case err, ok := <-w.fs.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watcher error", "error", err)
			}
		}
	}()
	return out
}
