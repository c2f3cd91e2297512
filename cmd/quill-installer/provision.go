package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"quill/internal/modelcache"
	"quill/internal/protocol"
	"quill/internal/runtime"
)

type provisionOptions struct {
	root           string
	provisionModel bool
	modelCache     string
	registry       string
	modelRepo      string
	caBundle       string
}

type venvStep struct {
	message string
	command func(inst runtime.Installation) *exec.Cmd
}

func venvSteps(ctx context.Context) []venvStep {
	return []venvStep{
		{
			message: "creating virtual environment",
			command: func(inst runtime.Installation) *exec.Cmd {
				return exec.CommandContext(ctx, inst.InterpreterPath(), "-m", "venv", "--copies", filepath.Join(inst.Root, "venv"))
			},
		},
		{
			message: "upgrading packaging tooling",
			command: func(inst runtime.Installation) *exec.Cmd {
				return exec.CommandContext(ctx, inst.VenvPython(), "-m", "pip", "install", "--upgrade", "pip")
			},
		},
		{
			message: "installing pinned dependencies",
			command: func(inst runtime.Installation) *exec.Cmd {
				return exec.CommandContext(ctx, inst.VenvPip(), "install", "--no-input", "-r", inst.RequirementsPath())
			},
		},
	}
}

func runProvision(ctx context.Context, opts *provisionOptions, out io.Writer) error {
	inst := runtime.At(opts.root)
	emit := newEmitter(out)

	steps := venvSteps(ctx)
	total := len(steps)
	if opts.provisionModel {
		total++
	}

	for i, step := range steps {
		emit.line(protocol.FormatStep(i+1, total, step.message))
		cmd := step.command(inst)
		cmd.Dir = inst.Root
		cmd.Stdout = out
		cmd.Stderr = out
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("%s: %w", step.message, err)
		}
	}

	if opts.provisionModel {
		emit.line(protocol.FormatStep(total, total, "downloading speech model"))
		if err := provisionModel(ctx, opts, emit); err != nil {
			return fmt.Errorf("downloading speech model: %w", err)
		}
	}
	return nil
}

func provisionModel(ctx context.Context, opts *provisionOptions, emit *emitter) error {
	registry := modelcache.NewRegistry(opts.registry, opts.caBundle)
	cache := modelcache.Cache{Root: opts.modelCache, RepoID: opts.modelRepo}

	info, err := registry.Lookup(opts.modelRepo)
	if err != nil {
		return err
	}
	if local := cache.LocalRevision(); local == info.SHA {
		return nil
	}
	return modelcache.Provision(ctx, cache, registry, info, &protocolObserver{emit: emit, files: info.Siblings})
}

// emitter serializes protocol lines; the heartbeat goroutine and the
// download loop both write through it.
type emitter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func newEmitter(out io.Writer) *emitter {
	return &emitter{w: bufio.NewWriter(out)}
}

func (e *emitter) line(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintln(e.w, s)
	// Flush per line: the parent renders progress as it arrives.
	_ = e.w.Flush()
}

// protocolObserver translates model download events into protocol lines,
// tracking aggregate byte progress across files for DOWNLOAD lines.
type protocolObserver struct {
	emit  *emitter
	files []modelcache.ModelFile

	mu        sync.Mutex
	completed int64
	current   int64
}

func (o *protocolObserver) totalBytes() int64 {
	var total int64
	for _, f := range o.files {
		total += f.Size
	}
	return total
}

func (o *protocolObserver) FileStart(index, totalFiles int, name string, size int64) {
	o.mu.Lock()
	o.current = 0
	o.mu.Unlock()
	o.emit.line(protocol.FormatFileStart(protocol.FileStart{
		Index: index, TotalFiles: totalFiles, File: name, Size: size,
	}))
}

func (o *protocolObserver) FileProgress(index, totalFiles int, name string, done, total int64, pct float64) {
	o.emit.line(protocol.FormatFileProgress(protocol.FileProgress{
		Index: index, TotalFiles: totalFiles, File: name, Done: done, Total: total, Pct: pct,
	}))

	o.mu.Lock()
	if done >= total && total > 0 {
		o.completed += total
		o.current = 0
	} else {
		o.current = done
	}
	aggregateDone := o.completed + o.current
	o.mu.Unlock()

	if grandTotal := o.totalBytes(); grandTotal > 0 {
		o.emit.line(protocol.FormatDownload(aggregateDone, grandTotal,
			float64(aggregateDone)/float64(grandTotal)*100))
	}
}

func (o *protocolObserver) FileHeartbeat(index, totalFiles int, name string, elapsed time.Duration, size, done, total int64) {
	o.emit.line(protocol.FormatFileHeartbeat(protocol.FileHeartbeat{
		Index: index, TotalFiles: totalFiles, File: name,
		Elapsed: protocol.HeartbeatElapsed(elapsed), Size: size, Done: done, Total: total,
	}))
}

var _ modelcache.FileObserver = (*protocolObserver)(nil)
