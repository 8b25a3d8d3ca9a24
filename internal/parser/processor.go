package parser

import (
	"github.com/apoch/fugue/internal/pipeline"
)

// Processor adapts the parser to the pipeline: source text in, elaborated
// program and diagnostics out.
type Processor struct{}

func NewProcessor() *Processor {
	return &Processor{}
}

func (p *Processor) Process(ctx *pipeline.PipelineContext) *pipeline.PipelineContext {
	program, diags, err := Parse(ctx.Source)
	ctx.Program = program
	ctx.Diagnostics = append(ctx.Diagnostics, diags...)
	ctx.Err = err
	return ctx
}
