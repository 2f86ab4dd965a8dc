package report

import "github.com/charmbracelet/lipgloss"

// paint styles one line of output.
type paint func(string) string

type styles struct {
	header  paint
	hunk    paint
	added   paint
	removed paint
	title   paint
	ok      paint
	warn    paint
	bad     paint
	muted   paint
}

func plain(s string) string { return s }

func render(style lipgloss.Style) paint {
	return func(s string) string { return style.Render(s) }
}

func fg(color string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).TabWidth(lipgloss.NoTabConversion)
}

func newStyles(color bool) styles {
	if !color {
		return styles{plain, plain, plain, plain, plain, plain, plain, plain, plain}
	}
	return styles{
		header:  render(lipgloss.NewStyle().Bold(true).TabWidth(lipgloss.NoTabConversion)),
		hunk:    render(fg("6")),
		added:   render(fg("2")),
		removed: render(fg("1")),
		title:   render(lipgloss.NewStyle().Bold(true)),
		ok:      render(fg("2")),
		warn:    render(fg("3")),
		bad:     render(fg("1").Bold(true)),
		muted:   render(lipgloss.NewStyle().Faint(true)),
	}
}
