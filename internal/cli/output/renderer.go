// Package output renders command results for terminals, files and scripts.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Mode selects how results are rendered.
type Mode string

// Output modes.
const (
	ModeAuto     Mode = "auto"
	ModeMinimal  Mode = "minimal"
	ModeDetailed Mode = "detailed"
	ModeJSON     Mode = "json"
)

// Modes lists the accepted values of --output-mode.
func Modes() []string {
	return []string{string(ModeAuto), string(ModeMinimal), string(ModeDetailed), string(ModeJSON)}
}

// ParseMode parses a mode name. The empty string means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeMinimal, ModeDetailed, ModeJSON:
		return m, nil
	default:
		return "", fmt.Errorf("unknown output mode %q (want one of %s)", s, strings.Join(Modes(), ", "))
	}
}

// Styles holds the lipgloss styles used by the renderer.
type Styles struct {
	Header1  lipgloss.Style
	Header2  lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Error    lipgloss.Style
	Warning  lipgloss.Style
	Info     lipgloss.Style
	Success  lipgloss.Style
	NodePath lipgloss.Style
}

func newStyles(lr *lipgloss.Renderer) Styles {
	return Styles{
		Header1:  lr.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Header2:  lr.NewStyle().Bold(true),
		Bold:     lr.NewStyle().Bold(true),
		Muted:    lr.NewStyle().Foreground(lipgloss.Color("8")),
		Error:    lr.NewStyle().Foreground(lipgloss.Color("9")),
		Warning:  lr.NewStyle().Foreground(lipgloss.Color("11")),
		Info:     lr.NewStyle().Foreground(lipgloss.Color("14")),
		Success:  lr.NewStyle().Foreground(lipgloss.Color("10")),
		NodePath: lr.NewStyle().Foreground(lipgloss.Color("13")),
	}
}

// Renderer writes styled output. Colour is only used on terminals.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	mode   Mode
	isTTY  bool
	styles Styles
}

// NewRenderer creates a renderer for out. Diagnostics go to errOut.
func NewRenderer(out, errOut io.Writer, mode Mode) *Renderer {
	if mode == "" {
		mode = ModeAuto
	}
	tty := isTerminal(out)

	lr := lipgloss.NewRenderer(out)
	if tty {
		lr.SetColorProfile(termenv.EnvColorProfile())
	} else {
		lr.SetColorProfile(termenv.Ascii)
	}

	return &Renderer{
		out:    out,
		errOut: errOut,
		mode:   mode,
		isTTY:  tty,
		styles: newStyles(lr),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

// EffectiveMode resolves auto: detailed on a terminal, minimal otherwise.
func (r *Renderer) EffectiveMode() Mode {
	if r.mode != ModeAuto {
		return r.mode
	}
	if r.isTTY {
		return ModeDetailed
	}
	return ModeMinimal
}

// IsTTY reports whether the output is a terminal.
func (r *Renderer) IsTTY() bool { return r.isTTY }

// Styles returns the renderer's styles.
func (r *Renderer) Styles() Styles { return r.styles }

// Writer returns the main output writer.
func (r *Renderer) Writer() io.Writer { return r.out }

// Println writes a line.
func (r *Renderer) Println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

// Printf writes formatted output.
func (r *Renderer) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format, a...)
}

// Header writes a level 1 or 2 heading.
func (r *Renderer) Header(level int, text string) {
	if level <= 1 {
		r.Println(r.styles.Header1.Render(text))
		r.Println(r.styles.Muted.Render(strings.Repeat("=", len([]rune(text)))))
		return
	}
	r.Println(r.styles.Header2.Render(text))
}

// Success writes a success line.
func (r *Renderer) Success(msg string) {
	r.Println(r.styles.Success.Render("✓ " + msg))
}

// Warning writes a warning to the diagnostics writer.
func (r *Renderer) Warning(msg string) {
	_, _ = fmt.Fprintln(r.errOut, r.styles.Warning.Render("! "+msg))
}

// Error writes an error to the diagnostics writer.
func (r *Renderer) Error(msg string) {
	_, _ = fmt.Fprintln(r.errOut, r.styles.Error.Render("✗ "+msg))
}

// Muted writes a de-emphasized line.
func (r *Renderer) Muted(msg string) {
	r.Println(r.styles.Muted.Render(msg))
}

// FormatKeyValue formats an aligned "key: value" line.
func FormatKeyValue(key, value string) string {
	return fmt.Sprintf("  %-12s %s", key+":", value)
}
