package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"quill/internal/download"
	"quill/internal/logging"
	"quill/internal/protocol"
)

// progressRenderer turns download bytes and installer protocol events into
// terminal output: a live bar on a TTY, sampled plain lines otherwise.
type progressRenderer struct {
	out     io.Writer
	tty     bool
	bar     *progressbar.ProgressBar
	sampler *logging.ProgressSampler
}

func newProgressRenderer(out io.Writer) *progressRenderer {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &progressRenderer{
		out:     out,
		tty:     tty,
		sampler: logging.NewProgressSampler(10),
	}
}

// Progress implements download.Observer for the payload transfer.
func (p *progressRenderer) Progress(done, total int64) {
	if p.tty {
		if p.bar == nil {
			p.bar = progressbar.NewOptions64(total,
				progressbar.OptionSetWriter(p.out),
				progressbar.OptionSetDescription("downloading runtime"),
				progressbar.OptionShowBytes(true),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = p.bar.Set64(done)
		return
	}

	if total <= 0 {
		if p.sampler.ShouldLog(-1, "download") {
			fmt.Fprintf(p.out, "downloading runtime: %s\n", humanize.Bytes(uint64(done)))
		}
		return
	}
	percent := float64(done) / float64(total) * 100
	if p.sampler.ShouldLog(percent, "download") {
		fmt.Fprintf(p.out, "downloading runtime: %s / %s (%.0f%%)\n",
			humanize.Bytes(uint64(done)), humanize.Bytes(uint64(total)), percent)
	}
}

// finishBar closes out any live bar before other output is printed.
func (p *progressRenderer) finishBar() {
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}

// InstallerEvent renders the provisioning child's protocol stream.
func (p *progressRenderer) InstallerEvent(ev protocol.Event) {
	switch ev := ev.(type) {
	case protocol.Step:
		p.finishBar()
		fmt.Fprintf(p.out, "[%d/%d] %s\n", ev.N, ev.Total, ev.Message)
	case protocol.FileStart:
		p.finishBar()
		fmt.Fprintf(p.out, "  model file %d/%d: %s (%s)\n",
			ev.Index, ev.TotalFiles, ev.File, humanize.Bytes(uint64(ev.Size)))
	case protocol.FileProgress:
		if p.sampler.ShouldLog(ev.Pct, ev.File) {
			fmt.Fprintf(p.out, "  %s: %s / %s (%.0f%%)\n",
				ev.File, humanize.Bytes(uint64(ev.Done)), humanize.Bytes(uint64(ev.Total)), ev.Pct)
		}
	case protocol.FileHeartbeat:
		if ev.Done == 0 {
			fmt.Fprintf(p.out, "  %s: connecting… (%.0fs elapsed)\n", ev.File, ev.Elapsed)
		}
	case protocol.Download:
		// Aggregate progress is redundant with the per-file lines here.
	case protocol.Plain:
		// Tool chatter from pip and friends stays in the log file only.
	}
}

var _ download.Observer = (*progressRenderer)(nil)
