package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/engine"
	"github.com/loomworks/loom/internal/lineage"
	"github.com/loomworks/loom/internal/values"
)

// TraceReport is the JSON payload of a lineage trace.
type TraceReport struct {
	Root     string   `json:"root"`
	Values   []string `json:"values"`  // discovery order, root first
	Orphans  []string `json:"orphans"` // sorted
	Rendered string   `json:"rendered"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trace <value-id>",
		Short: "Render the lineage of a value",
		Long: `Trace resolves a value's full provenance graph from the configured
archive and renders it as an indented tree, down to the orphan values
everything else derives from.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(rootOpts, args[0], cmd)
		},
	}
}

func runTrace(opts *RootOptions, valueID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error())
		return NewExitError(ExitCommandError, err.Error())
	}

	rt, err := engine.New(cfg, nil, nil)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error())
		return NewExitError(ExitCommandError, err.Error())
	}
	defer rt.Close()

	g, err := rt.Trace(ctx, valueID)
	if err != nil {
		var uve *values.UnknownValueError
		if errors.As(err, &uve) {
			_ = formatter.Error(ErrCodeNotFound, err.Error())
			return NewExitError(ExitCommandError, err.Error())
		}
		_ = formatter.Error(ErrCodeTrace, err.Error())
		return NewExitError(ExitFailure, err.Error())
	}

	rendered := lineage.Render(g)
	if formatter.Format == "json" {
		return formatter.Success(TraceReport{
			Root:     g.Root.ID,
			Values:   g.ValueIDs(),
			Orphans:  g.Orphans(),
			Rendered: rendered,
		})
	}

	fmt.Fprint(formatter.Writer, rendered)
	return nil
}
