package output

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles used for text output.
type Styles struct {
	Header1 lipgloss.Style
	Header2 lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Code    lipgloss.Style
	Table   lipgloss.Style
}

// NewStyles returns colored styles for terminals and plain ones otherwise.
func NewStyles(color bool) *Styles {
	if !color {
		plain := lipgloss.NewStyle()
		return &Styles{
			Header1: plain, Header2: plain, Success: plain, Warning: plain,
			Error: plain, Muted: plain, Code: plain, Table: plain,
		}
	}
	return &Styles{
		Header1: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Header2: lipgloss.NewStyle().Bold(true),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Code:    lipgloss.NewStyle().Foreground(lipgloss.Color("14")).PaddingLeft(2),
		Table:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
	}
}
