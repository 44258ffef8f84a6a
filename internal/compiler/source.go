package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/loomworks/loom/internal/pipeline"
)

// CompileSource compiles CUE source text and extracts the pipeline
// declaration under the top-level "pipeline" field.
func CompileSource(source, filename string) (pipeline.Decl, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(source, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return pipeline.Decl{}, formatCUEError(err)
	}

	pv := v.LookupPath(cue.ParsePath("pipeline"))
	if !pv.Exists() {
		return pipeline.Decl{}, &CompileError{
			Field:   "pipeline",
			Message: fmt.Sprintf("no pipeline declaration found in %s", filename),
			Pos:     v.Pos(),
		}
	}
	return CompilePipeline(pv)
}

// CompileFile reads a CUE file and compiles its pipeline declaration.
func CompileFile(path string) (pipeline.Decl, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Decl{}, fmt.Errorf("read pipeline file: %w", err)
	}
	return CompileSource(string(data), path)
}
