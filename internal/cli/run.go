package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/compiler"
	"github.com/loomworks/loom/internal/engine"
	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/values"
)

// RunReport is the JSON payload of a completed run.
type RunReport struct {
	Pipeline string            `json:"pipeline"`
	States   map[string]string `json:"states"`
	Outputs  map[string]string `json:"outputs"`           // output name -> value id
	Payloads map[string]string `json:"payloads,omitempty"` // output name -> canonical JSON
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var inputs []string

	cmd := &cobra.Command{
		Use:   "run <pipeline.cue>",
		Short: "Execute a pipeline declaration",
		Long: `Run compiles a CUE pipeline declaration, builds a runtime from the
configured archive backend, registers the given --input values, executes
the pipeline, and prints the output value ids.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(rootOpts, args[0], inputs, cmd)
		},
	}
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "pipeline input as name=value (string payload)")
	return cmd
}

func runRun(opts *RootOptions, path string, rawInputs []string, cmd *cobra.Command) error {
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

	decl, err := compiler.CompileFile(path)
	if err != nil {
		_ = formatter.Error(ErrCodeCompile, err.Error())
		return NewExitError(ExitFailure, err.Error())
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

	pipelineInputs, err := registerInputs(ctx, rt, rawInputs)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error())
		return NewExitError(ExitCommandError, err.Error())
	}
	formatter.VerboseLog("running pipeline %q with %d input(s)", decl.Name, len(pipelineInputs))

	result, err := rt.RunPipeline(ctx, decl, pipelineInputs)
	if err != nil {
		_ = formatter.Error(ErrCodeRun, err.Error())
		return NewExitError(ExitFailure, err.Error())
	}

	report := RunReport{
		Pipeline: result.Pipeline,
		States:   make(map[string]string, len(result.States)),
		Outputs:  result.Outputs,
		Payloads: make(map[string]string, len(result.Outputs)),
	}
	for step, state := range result.States {
		report.States[step] = string(state)
	}
	for name, id := range result.Outputs {
		payload, err := renderPayload(ctx, rt, id)
		if err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error())
			return NewExitError(ExitCommandError, err.Error())
		}
		report.Payloads[name] = payload
	}

	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	fmt.Fprintf(formatter.Writer, "pipeline %q finished\n", report.Pipeline)
	names := make([]string, 0, len(report.Outputs))
	for name := range report.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(formatter.Writer, "  %s: %s = %s\n", name, report.Outputs[name], report.Payloads[name])
	}
	return nil
}

// registerInputs parses name=value pairs and registers each value as an
// orphan string payload.
func registerInputs(ctx context.Context, rt *engine.Runtime, rawInputs []string) (map[string]string, error) {
	out := make(map[string]string, len(rawInputs))
	for _, raw := range rawInputs {
		name, value, ok := strings.Cut(raw, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("input %q must have the form name=value", raw)
		}
		id, err := rt.RegisterInput(ctx, ir.String(value), "string")
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		out[name] = id
	}
	return out, nil
}

// renderPayload renders a value's payload as canonical JSON; sentinels
// render as their status.
func renderPayload(ctx context.Context, rt *engine.Runtime, id string) (string, error) {
	switch id {
	case values.NotSetValueID:
		return "(not set)", nil
	case values.NoneValueID:
		return "(none)", nil
	}
	v, err := rt.Store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	d, err := rt.Store.Data(ctx, v)
	if err != nil {
		return "", err
	}
	canonical, err := ir.MarshalCanonical(d)
	if err != nil {
		return "", err
	}
	return string(canonical), nil
}
