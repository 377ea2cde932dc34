package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// UI writes human output to stdout and progress to stderr. In JSON mode
// it stays silent so stdout carries only the JSON document.
type UI struct {
	out      io.Writer
	progress *mpb.Progress
	jsonMode bool
	tty      bool
}

type tone struct {
	mark string
	c    *color.Color
}

var (
	toneSuccess = tone{"✓", color.New(color.FgGreen)}
	toneWarning = tone{"⚠", color.New(color.FgYellow)}
	toneInfo    = tone{"ℹ", color.New(color.FgCyan)}
	toneStep    = tone{"→", color.New(color.FgBlue)}
	toneError   = tone{"✗", color.New(color.FgRed)}
	keyColor    = color.New(color.FgYellow)
	headColor   = color.New(color.FgMagenta, color.Bold)
)

// NewUI creates the output helper for one command.
func NewUI(jsonMode, noColor bool) *UI {
	if noColor {
		color.NoColor = true
	}
	ui := &UI{
		out:      os.Stdout,
		jsonMode: jsonMode,
		tty:      stderrIsTerminal(),
	}
	if !jsonMode {
		ui.progress = mpb.New(mpb.WithWidth(48), mpb.WithOutput(os.Stderr), mpb.WithRefreshRate(150*time.Millisecond))
	}
	return ui
}

// Close flushes job bars. Every bar must be completed or aborted first.
func (ui *UI) Close() {
	if ui.progress == nil {
		return
	}
	if ui.tty {
		ui.progress.Wait()
		return
	}
	ui.progress.Shutdown()
}

func (ui *UI) say(t tone, w io.Writer, format string, args []interface{}) {
	if ui.jsonMode {
		return
	}
	t.c.Fprintf(w, "%s %s\n", t.mark, fmt.Sprintf(format, args...))
}

func (ui *UI) Success(format string, args ...interface{}) { ui.say(toneSuccess, ui.out, format, args) }
func (ui *UI) Warning(format string, args ...interface{}) { ui.say(toneWarning, ui.out, format, args) }
func (ui *UI) Info(format string, args ...interface{})    { ui.say(toneInfo, ui.out, format, args) }
func (ui *UI) Step(format string, args ...interface{})    { ui.say(toneStep, ui.out, format, args) }
func (ui *UI) Error(format string, args ...interface{})   { ui.say(toneError, os.Stderr, format, args) }

// JobBar adds a 0-100 bar following one merge job. It returns nil in JSON
// mode; a nil *JobBar ignores every call.
func (ui *UI) JobBar(name string) *JobBar {
	if ui.progress == nil {
		return nil
	}

	jb := &JobBar{}
	jb.status.Store("PENDING")
	jb.bar = ui.progress.New(100,
		mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding(" ").Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(name, decor.WCSyncSpaceR),
			decor.Any(func(decor.Statistics) string {
				return jb.status.Load().(string)
			}, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.OnAbort(decor.Percentage(decor.WC{W: 5}), "failed"),
			decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 8}),
		),
	)
	return jb
}

// JobBar mirrors a job's status and progress.
type JobBar struct {
	bar    *mpb.Bar
	status atomic.Value
}

// Update shows status and moves the bar to progress.
func (b *JobBar) Update(status string, progress int) {
	if b == nil {
		return
	}
	b.status.Store(status)
	b.bar.SetCurrent(int64(progress))
}

// Done fills the bar when ok and aborts it otherwise.
func (b *JobBar) Done(ok bool) {
	if b == nil {
		return
	}
	if !ok {
		b.bar.Abort(false)
		return
	}
	b.bar.SetCurrent(100)
}

// FileBar counts registered files.
func (ui *UI) FileBar(total int, description string) *progressbar.ProgressBar {
	if ui.jsonMode {
		return progressbar.DefaultSilent(int64(total))
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(32),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionEnableColorCodes(!color.NoColor),
	)
}

// Spinner returns a stopped spinner for waits without progress.
func (ui *UI) Spinner(message string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[11], 120*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message
	if ui.jsonMode || !ui.tty {
		s.Disable()
	}
	return s
}

// Section starts a titled block of key/value lines.
func (ui *UI) Section(title string) {
	if ui.jsonMode {
		return
	}
	fmt.Fprintln(ui.out)
	headColor.Fprintln(ui.out, strings.ToUpper(title))
}

// KeyValue prints one indented "key: value" line.
func (ui *UI) KeyValue(key string, value interface{}) {
	if ui.jsonMode {
		return
	}
	keyColor.Fprintf(ui.out, "  %-14s", key+":")
	fmt.Fprintf(ui.out, " %v\n", value)
}

// Table prints rows aligned under headers.
func (ui *UI) Table(headers []string, rows [][]string) {
	if ui.jsonMode {
		return
	}
	tw := tabwriter.NewWriter(ui.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

// Newline prints an empty line.
func (ui *UI) Newline() {
	if !ui.jsonMode {
		fmt.Fprintln(ui.out)
	}
}

// FormatBytes renders n with a binary unit, one decimal above 1 KB.
func FormatBytes(n int64) string {
	units := []string{"KB", "MB", "GB", "TB"}
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	v := float64(n) / 1024
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", v, units[i])
}

func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
