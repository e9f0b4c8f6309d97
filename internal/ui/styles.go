// Package ui renders CLI output: status glyphs, money and tables.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1F6FEB", Dark: "#58A6FF"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"}
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(ColorPass).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// Init picks the color profile for w. Colors are disabled when w is not a
// terminal or NO_COLOR is set.
func Init(w io.Writer) {
	out := termenv.NewOutput(w)
	if termenv.EnvNoColor() || !isTerminalWriter(w) {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(out.EnvColorProfile())
	lipgloss.SetHasDarkBackground(out.HasDarkBackground())
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }

// RenderMoney formats d with two decimals, green when positive and red when
// negative.
func RenderMoney(d decimal.Decimal) string {
	s := d.StringFixed(2)
	switch d.Sign() {
	case 1:
		return passStyle.UnsetBold().Render(s)
	case -1:
		return failStyle.UnsetBold().Render(s)
	default:
		return s
	}
}

// Table renders rows under headers with a rounded border.
func Table(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}

// IsInteractive reports whether stdin and stdout are both terminals.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
