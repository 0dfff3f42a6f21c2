package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// styles holds the terminal styling for human-readable output. lipgloss
// drops the colors on its own when stdout is not a terminal.
type styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Success lipgloss.Style
	Warn    lipgloss.Style
	Error   lipgloss.Style
	Subtle  lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),
		Label: lipgloss.NewStyle().
			Width(14).
			Foreground(lipgloss.Color("245")),
		Success: lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")),
		Warn: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),
		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),
		Subtle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
	}
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// confirm asks a yes/no question on the command's streams. --force and
// --quiet skip the prompt.
func confirm(cmd *cobra.Command, force bool, question string) bool {
	if force || quiet {
		return true
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", question)
	answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
		return false
	}
	return true
}
