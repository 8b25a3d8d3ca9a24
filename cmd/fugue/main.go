// Command fugue is the toolchain front end: run a source file, write its
// textual assembly, emit bytecode, or load and run a bytecode file.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/apoch/fugue/internal/bytecode"
	"github.com/apoch/fugue/internal/config"
	"github.com/apoch/fugue/internal/ir"
	"github.com/apoch/fugue/internal/parser"
	"github.com/apoch/fugue/internal/pipeline"
	"github.com/apoch/fugue/internal/serialization"
	"github.com/apoch/fugue/internal/vm"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: fugue <run|serialize|compile|exec> [--out path] [--verbose] <path>")
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return 1
	}
	command := args[0]

	fs := flag.NewFlagSet("fugue", flag.ContinueOnError)
	out := fs.String("out", "", "output path for serialize and compile")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		usage()
		return 1
	}
	path := fs.Arg(0)

	log := newLogger(*verbose)
	bytecode.SetTraceLogger(log)

	switch command {
	case "run":
		return runSource(log, path)
	case "serialize":
		return serializeSource(log, path, *out)
	case "compile":
		return compileSource(log, path, *out)
	case "exec":
		return execBytecode(log, path)
	default:
		usage()
		return 1
	}
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{
		Out:     os.Stderr,
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()),
	}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// build parses a source file into a program, reporting every diagnostic.
func build(log zerolog.Logger, path string) (*ir.Program, bool) {
	source, err := os.ReadFile(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("cannot read source")
		return nil, false
	}

	cfg, err := config.LoadProject(path)
	if err != nil {
		log.Error().Err(err).Msg("cannot read project file")
		return nil, false
	}

	ctx := pipeline.New(parser.NewProcessor()).Run(&pipeline.PipelineContext{
		SourcePath: path,
		Source:     string(source),
	})
	for _, diag := range ctx.Diagnostics {
		log.Error().Msg(diag.Error())
	}
	if ctx.Err != nil {
		log.Error().Err(ctx.Err).Msg("build aborted")
		return nil, false
	}
	if ctx.Program.HasFatalError() {
		return nil, false
	}

	if cfg.UsesConsole {
		ctx.Program.UsesConsole = true
	}
	for _, lib := range cfg.Extensions {
		ctx.Program.AddExtension(lib)
	}
	log.Debug().Int("diagnostics", len(ctx.Diagnostics)).Msg("build complete")
	return ctx.Program, true
}

func runSource(log zerolog.Logger, path string) int {
	program, ok := build(log, path)
	if !ok {
		return 1
	}
	machine := vm.NewMachine(program, os.Stdout, os.Stdin)
	if err := machine.Run(); err != nil {
		log.Error().Err(err).Msg("execution failed")
		return 1
	}
	return 0
}

func serializeSource(log zerolog.Logger, path, out string) int {
	program, ok := build(log, path)
	if !ok {
		return 1
	}
	if out == "" {
		out = outputPathFor(path, config.AssemblyFileExt)
	}
	f, err := os.Create(out)
	if err != nil {
		log.Error().Err(err).Str("path", out).Msg("cannot create output")
		return 1
	}
	defer f.Close()
	if err := serialization.Write(f, program); err != nil {
		log.Error().Err(err).Msg("serialization failed")
		return 1
	}
	log.Debug().Str("path", out).Msg("assembly written")
	return 0
}

func compileSource(log zerolog.Logger, path, out string) int {
	program, ok := build(log, path)
	if !ok {
		return 1
	}
	data, err := bytecode.Write(program)
	if err != nil {
		log.Error().Err(err).Msg("bytecode emission failed")
		return 1
	}
	if out == "" {
		out = outputPathFor(path, config.BytecodeFileExt)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", out).Msg("cannot write bytecode")
		return 1
	}
	log.Debug().Str("path", out).Int("bytes", len(data)).Msg("bytecode written")
	return 0
}

func execBytecode(log zerolog.Logger, path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("cannot read bytecode")
		return 1
	}
	program, err := bytecode.Load(data)
	if err != nil {
		log.Error().Err(err).Msg("load failed")
		return 1
	}
	machine := vm.NewMachine(program, os.Stdout, os.Stdin)
	if err := machine.Run(); err != nil {
		log.Error().Err(err).Msg("execution failed")
		return 1
	}
	return 0
}

func outputPathFor(sourcePath, ext string) string {
	cfg, err := config.LoadProject(sourcePath)
	if err == nil && cfg.Output != "" {
		return cfg.Output
	}
	return config.DerivedOutputPath(sourcePath, ext)
}
