// Package pipeline chains the toolchain's processing stages over a shared
// context: source text in, elaborated program (or bytecode) out.
package pipeline

import (
	"github.com/apoch/fugue/internal/diagnostics"
	"github.com/apoch/fugue/internal/ir"
)

// PipelineContext carries one compilation through the stages.
type PipelineContext struct {
	SourcePath string
	Source     string

	Program  *ir.Program
	Bytecode []byte

	Diagnostics []*diagnostics.DiagnosticError
	Err         error
}

// Processor is one pipeline stage.
type Processor interface {
	Process(ctx *PipelineContext) *PipelineContext
}

// Pipeline represents a sequence of processing stages.
type Pipeline struct {
	processors []Processor
}

func New(processors ...Processor) *Pipeline {
	return &Pipeline{processors: processors}
}

// Run executes the pipeline. A stage that records a hard error stops the
// chain; soft diagnostics accumulate across stages.
func (p *Pipeline) Run(initialCtx *PipelineContext) *PipelineContext {
	ctx := initialCtx
	for _, processor := range p.processors {
		ctx = processor.Process(ctx)
		if ctx.Err != nil {
			return ctx
		}
	}
	return ctx
}
