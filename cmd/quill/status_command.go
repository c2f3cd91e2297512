package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"quill/internal/modelcache"
	"quill/internal/runtime"
	"quill/internal/state"
	"quill/internal/version"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the installed runtime, model, and last update decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			inst := runtime.At(cfg.RuntimeDir())
			installed := "not installed"
			if inst.Valid() {
				installed = version.Normalize(inst.Version())
			}

			cache := modelcache.Cache{Root: cfg.Paths.ModelCacheDir, RepoID: cfg.Model.RepoID}
			modelRev := cache.LocalRevision()
			if modelRev == "" {
				modelRev = "not installed"
			} else {
				modelRev = shortRevision(modelRev)
			}

			rows := [][]string{
				{"Runtime version", installed},
				{"Runtime directory", cfg.RuntimeDir()},
				{"Model revision", modelRev},
				{"Model repository", cfg.Model.RepoID},
			}

			if st, err := state.LoadUpdateState(cfg.UpdateStatePath()); err == nil && !st.CheckedAt.IsZero() {
				rows = append(rows,
					[]string{"Last update check", humanize.Time(st.CheckedAt)},
					[]string{"Last decision", st.ActionTaken},
				)
				if st.RemoteVersion != "" {
					rows = append(rows, []string{"Last known remote", st.RemoteVersion})
				}
				if st.LastError != "" {
					rows = append(rows, []string{"Last error", st.LastError})
				}
				if st.ManifestFailures > 0 {
					rows = append(rows, []string{"Consecutive check failures", fmt.Sprint(st.ManifestFailures)})
				}
			}

			if ms, err := state.LoadModelState(cfg.ModelStatePath()); err == nil && !ms.LastCheckAt.IsZero() {
				rows = append(rows, []string{"Last model check", humanize.Time(ms.LastCheckAt)})
				if ms.DeferredSHA != "" {
					rows = append(rows, []string{"Pending model revision", shortRevision(ms.DeferredSHA)})
				}
			}

			fmt.Fprintln(out, renderTable(
				[]string{"Field", "Value"},
				rows,
				[]columnAlignment{alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func shortRevision(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
