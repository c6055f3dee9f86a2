package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/crm-mailsync/internal/theme"
)

// Layout splits the terminal into a header line, a content area and a
// status bar line.
type Layout struct {
	Width  int
	Height int
}

// NewLayout creates a Layout with the given terminal dimensions.
func NewLayout(width, height int) Layout {
	return Layout{Width: width, Height: height}
}

// ContentHeight returns the rows left between header and status bar.
func (l Layout) ContentHeight() int {
	return max(l.Height-2, 0)
}

// RenderHeader renders title on the left and status on the right, padded
// to the full width.
func (l Layout) RenderHeader(title, status string) string {
	left := theme.HeaderStyle.Render(title)
	gap := max(l.Width-lipgloss.Width(left)-lipgloss.Width(status), 0)
	filler := theme.HeaderStyle.Padding(0).Width(gap).Render("")
	return lipgloss.JoinHorizontal(lipgloss.Top, left, filler, status)
}

// RenderStatusBar renders hints across the full width.
func (l Layout) RenderStatusBar(hints string) string {
	return theme.StatusBarStyle.Width(max(l.Width, 0)).Render(hints)
}

// Frame joins header, content and status bar vertically. The content is
// clipped or padded to ContentHeight.
func (l Layout) Frame(header, content, statusBar string) string {
	body := lipgloss.NewStyle().
		Height(l.ContentHeight()).
		MaxHeight(l.ContentHeight()).
		Render(content)
	return lipgloss.JoinVertical(lipgloss.Left, header, body, statusBar)
}
