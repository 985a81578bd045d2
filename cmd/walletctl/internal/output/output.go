package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	MutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

// Out is where commands write; tests swap it.
var Out io.Writer = os.Stdout

func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(Out, string(data))
	return err
}

func Table(headers []string, rows [][]string) {
	table := tablewriter.NewWriter(Out)
	table.SetHeader(headers)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("│")
	table.SetColumnSeparator("│")
	table.SetRowSeparator("─")
	table.AppendBulk(rows)
	table.Render()
}

func Header(title string) {
	fmt.Fprintln(Out, HeaderStyle.Render(title))
}

func Success(msg string) {
	fmt.Fprintln(Out, SuccessStyle.Render("✓ ")+msg)
}

func Warning(msg string) {
	fmt.Fprintln(Out, WarningStyle.Render("! ")+msg)
}

func Error(msg string) {
	fmt.Fprintln(os.Stderr, ErrorStyle.Render("✗ ")+msg)
}

func Muted(msg string) {
	fmt.Fprintln(Out, MutedStyle.Render(msg))
}
