// Package storage owns the orchestrator home directory layout and
// crash-consistent file helpers.
//
//	<home>/envs/<envId>/{repo.url, default_branch, mirror/}
//	<home>/tasks/<taskId>/{meta.json, logs/, worktree/}
package storage

import "path/filepath"

// Layout resolves paths under the orchestrator home
type Layout struct {
	Home string
}

func NewLayout(home string) Layout { return Layout{Home: home} }

func (l Layout) EnvsDir() string  { return filepath.Join(l.Home, "envs") }
func (l Layout) TasksDir() string { return filepath.Join(l.Home, "tasks") }

func (l Layout) EnvDir(envID string) string { return filepath.Join(l.EnvsDir(), envID) }

func (l Layout) MirrorDir(envID string) string { return filepath.Join(l.EnvDir(envID), "mirror") }

func (l Layout) RepoURLFile(envID string) string { return filepath.Join(l.EnvDir(envID), "repo.url") }

func (l Layout) DefaultBranchFile(envID string) string {
	return filepath.Join(l.EnvDir(envID), "default_branch")
}

func (l Layout) TaskDir(taskID string) string { return filepath.Join(l.TasksDir(), taskID) }

func (l Layout) MetaFile(taskID string) string { return filepath.Join(l.TaskDir(taskID), "meta.json") }

func (l Layout) LogsDir(taskID string) string { return filepath.Join(l.TaskDir(taskID), "logs") }

func (l Layout) WorktreeDir(taskID string) string {
	return filepath.Join(l.TaskDir(taskID), "worktree")
}

func (l Layout) RunLogFile(taskID, logFile string) string {
	return filepath.Join(l.LogsDir(taskID), logFile)
}
