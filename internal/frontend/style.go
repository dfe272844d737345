package frontend

import "github.com/fatih/color"

// Style holds the marks and colors the Interactive adapter draws with
// (Quiet uses none), grounded on the
// teacher's ui.Style: a fixed palette of glyphs per operation kind plus a
// couple of named text styles.
type Style struct {
	InstallMark   string
	UpdateMark    string
	UninstallMark string
	WarnMark      string
	FailMark      string
	OkMark        string
	Header        *color.Color
	Path          *color.Color
}

func NewStyle() *Style {
	return &Style{
		InstallMark:   color.New(color.FgGreen).Sprint("+"),
		UpdateMark:    color.New(color.FgCyan).Sprint("^"),
		UninstallMark: color.New(color.FgYellow).Sprint("-"),
		WarnMark:      color.New(color.FgYellow).Sprint("!"),
		FailMark:      color.New(color.FgRed).Sprint("x"),
		OkMark:        color.New(color.FgGreen).Sprint("✓"),
		Header:        color.New(color.FgCyan, color.Bold),
		Path:          color.New(color.FgCyan),
	}
}

// MarkFor returns the glyph for an operation kind string ("Install",
// "Update", "InstallBundle", "Uninstall").
func (s *Style) MarkFor(kind string) string {
	switch kind {
	case "Install", "InstallBundle":
		return s.InstallMark
	case "Update":
		return s.UpdateMark
	case "Uninstall":
		return s.UninstallMark
	default:
		return " "
	}
}
