package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/compiler"
	"github.com/loomworks/loom/internal/jobs"
	"github.com/loomworks/loom/internal/pipeline"
)

// ValidationResult holds the outcome of validating one declaration.
type ValidationResult struct {
	Valid    bool       `json:"valid"`
	Pipeline string     `json:"pipeline,omitempty"`
	Staging  string     `json:"staging,omitempty"`
	Stages   [][]string `json:"stages,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <pipeline.cue>",
		Short: "Validate a pipeline declaration and print its stage plan",
		Long: `Validate compiles a CUE pipeline declaration, checks its structure
(connections, cycles, staging) against the builtin module set, and
prints the resulting stage plan without executing anything.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	decl, err := compiler.CompileFile(path)
	if err != nil {
		var ce *compiler.CompileError
		if errors.As(err, &ce) {
			_ = formatter.Error(ErrCodeCompile, ce.Error())
			return NewExitError(ExitFailure, ce.Error())
		}
		_ = formatter.Error(ErrCodeNotFound, err.Error())
		return NewExitError(ExitCommandError, err.Error())
	}
	formatter.VerboseLog("compiled pipeline %q from %s", decl.Name, path)

	structure, err := pipeline.Compile(decl, jobs.BuiltinModules())
	if err != nil {
		_ = formatter.Error(ErrCodeStructure, err.Error())
		return NewExitError(ExitFailure, err.Error())
	}

	result := ValidationResult{
		Valid:    true,
		Pipeline: structure.Name,
		Staging:  string(structure.Staging),
		Stages:   structure.Stages,
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ pipeline %q valid (staging %s)\n", result.Pipeline, result.Staging)
	for i, stage := range result.Stages {
		fmt.Fprintf(formatter.Writer, "  stage %d: %s\n", i+1, strings.Join(stage, ", "))
	}
	return nil
}
