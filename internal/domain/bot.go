package domain

import "time"

// Bot 托管的 bot 元数据（持久化记录）
type Bot struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	UploadDate time.Time `json:"uploadDate"`
	EntryFile  string    `json:"entryFile"`  // 相对 FolderPath 的入口脚本
	FolderPath string    `json:"folderPath"` // 解压目录（绝对路径）
}

// NewBot is the input of Registry.Create; id and upload date are assigned by the registry.
type NewBot struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	EntryFile  string `json:"entryFile"`
	FolderPath string `json:"folderPath"`
}

// Patch 部分更新，nil 字段保持不变
type Patch struct {
	Name       *string `json:"name,omitempty"`
	Status     *Status `json:"status,omitempty"`
	EntryFile  *string `json:"entryFile,omitempty"`
	FolderPath *string `json:"folderPath,omitempty"`
}

// Apply returns a copy of b with the non-nil fields of p applied.
func (p Patch) Apply(b Bot) Bot {
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.Status != nil {
		b.Status = *p.Status
	}
	if p.EntryFile != nil {
		b.EntryFile = *p.EntryFile
	}
	if p.FolderPath != nil {
		b.FolderPath = *p.FolderPath
	}
	return b
}

// StatusPatch is shorthand for a patch that only changes the status.
func StatusPatch(s Status) Patch {
	return Patch{Status: &s}
}

// Status bot 状态
type Status string

const (
	StatusStopped    Status = "stopped"
	StatusRunning    Status = "running"
	StatusError      Status = "error"
	StatusRestarting Status = "restarting"
)

func (s Status) Valid() bool {
	switch s {
	case StatusStopped, StatusRunning, StatusError, StatusRestarting:
		return true
	}
	return false
}
