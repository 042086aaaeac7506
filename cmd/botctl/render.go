package main

import (
	"fmt"
	"strings"

	"github.com/betbot/bothost/internal/domain"
	"github.com/betbot/bothost/internal/logstream"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func statusText(s domain.Status) string {
	switch s {
	case domain.StatusRunning:
		return successStyle.Render(string(s))
	case domain.StatusRestarting:
		return warningStyle.Render(string(s))
	case domain.StatusError:
		return errorStyle.Render(string(s))
	default:
		return mutedStyle.Render(string(s))
	}
}

func renderBots(bots []domain.Bot) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers("ID", "NAME", "STATUS", "ENTRY", "UPLOADED").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, b := range bots {
		t.Row(b.ID, b.Name, statusText(b.Status), b.EntryFile, b.UploadDate.Local().Format("2006-01-02 15:04:05"))
	}
	return t.Render()
}

func renderBot(b domain.Bot, running bool) string {
	var sb strings.Builder
	row := func(k, v string) { fmt.Fprintf(&sb, "%s %s\n", headerStyle.Render(fmt.Sprintf("%-10s", k)), v) }
	row("id", b.ID)
	row("name", b.Name)
	row("status", statusText(b.Status))
	row("running", fmt.Sprint(running))
	row("entry", b.EntryFile)
	row("folder", b.FolderPath)
	row("uploaded", b.UploadDate.Local().Format("2006-01-02 15:04:05"))
	return strings.TrimRight(sb.String(), "\n")
}

func renderLine(level logstream.Level, msg string) string {
	switch level {
	case logstream.LevelError:
		return errorStyle.Render(msg)
	case logstream.LevelWarn:
		return warningStyle.Render(msg)
	default:
		return msg
	}
}
