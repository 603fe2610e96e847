package worktree

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// FileStat summarises one changed file
type FileStat struct {
	Path    string `json:"path" yaml:"path"`
	Status  string `json:"status" yaml:"status"` // added, deleted, modified, renamed, untracked
	Added   int    `json:"added" yaml:"added"`
	Deleted int    `json:"deleted" yaml:"deleted"`
}

// DiffSummary is the worktree's change set relative to the task's base
type DiffSummary struct {
	Base    string     `json:"base" yaml:"base"`
	Files   []FileStat `json:"files" yaml:"files"`
	Added   int        `json:"added" yaml:"added"`
	Deleted int        `json:"deleted" yaml:"deleted"`
	Patch   string     `json:"patch" yaml:"-"`
}

// Diff compares the working tree (committed and uncommitted work) against the
// merge base of baseRef and HEAD. Untracked files are listed with their line counts.
func (p *Provisioner) Diff(ctx context.Context, wtPath, baseRef string) (*DiffSummary, error) {
	base := "HEAD"
	if baseRef != "" {
		res, err := p.git.Run(ctx, "-C", wtPath, "merge-base", baseRef, "HEAD")
		if err != nil {
			return nil, fmt.Errorf("git merge-base: %w", err)
		}
		base = strings.TrimSpace(res.Stdout)
	}

	res, err := p.git.Run(ctx, "-C", wtPath, "diff", "--no-color", "--no-ext-diff", "-M", base)
	if err != nil {
		return nil, fmt.Errorf("git diff: %w", err)
	}

	summary, err := ParsePatch(res.Stdout)
	if err != nil {
		return nil, err
	}
	summary.Base = base

	untracked, err := p.git.Run(ctx, "-C", wtPath, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}
	for _, name := range strings.Split(strings.TrimSpace(untracked.Stdout), "\n") {
		if name == "" {
			continue
		}
		lines := countLines(filepath.Join(wtPath, name))
		summary.Files = append(summary.Files, FileStat{Path: name, Status: "untracked", Added: lines})
		summary.Added += lines
	}
	return summary, nil
}

// ParsePatch turns unified diff output into per-file stats.
func ParsePatch(patch string) (*DiffSummary, error) {
	summary := &DiffSummary{Patch: patch, Files: []FileStat{}}
	if strings.TrimSpace(patch) == "" {
		return summary, nil
	}

	fileDiffs, err := diff.ParseMultiFileDiff([]byte(patch))
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}
	for _, fd := range fileDiffs {
		stat := fd.Stat()
		fs := FileStat{
			Path:    cleanName(fd.NewName),
			Status:  "modified",
			Added:   int(stat.Added + stat.Changed),
			Deleted: int(stat.Deleted + stat.Changed),
		}
		oldName := cleanName(fd.OrigName)
		switch {
		case fd.OrigName == "/dev/null":
			fs.Status = "added"
		case fd.NewName == "/dev/null":
			fs.Status = "deleted"
			fs.Path = oldName
		case oldName != fs.Path:
			fs.Status = "renamed"
		}
		summary.Files = append(summary.Files, fs)
		summary.Added += fs.Added
		summary.Deleted += fs.Deleted
	}
	return summary, nil
}

func cleanName(name string) string {
	for _, prefix := range []string{"a/", "b/"} {
		if strings.HasPrefix(name, prefix) {
			return strings.TrimPrefix(name, prefix)
		}
	}
	return name
}

func countLines(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		n++
	}
	return n
}
