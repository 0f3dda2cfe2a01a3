package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/veloarch/velo/compiler"
	"github.com/veloarch/velo/compiler/velo"
)

func main() {
	compileCmd := &cli.Command{
		Name:   "compile",
		Action: compileAct,
		Args:   cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("single-path,sp", false, "apply the single path transformation"),
			cli.NewFlag("sp-funcs", "", "functions to transform, comma separated, empty means all"),
			cli.NewFlag("stack-cache", true, "use the stack cache for eligible frame objects"),
			cli.NewFlag("stack-cache-size", 1024, "stack cache capacity in bytes"),
			cli.NewFlag("stack-cache-block", 8, "stack cache block granularity in bytes"),
			cli.NewFlag("method-cache-size", 4096, "method cache capacity in bytes"),
			cli.NewFlag("bundles", true, "pack instructions into issue bundles"),
			cli.NewFlag("min-ilp", false, "prefer less parallel dependency subtrees when bundling"),
			cli.NewFlag("loop-bound", 128, "placeholder loop iteration bound"),
		},
	}

	dumpCmd := &cli.Command{
		Name:   "dump",
		Action: dumpAct,
		Args:   cli.Args{},
	}

	app := &cli.Command{
		Name:        "velo",
		Description: "velo is a machine code backend for a statically timed vliw processor",
		Commands: []*cli.Command{
			compileCmd,
			dumpCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func compileAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	cfg := compiler.DefaultConfig()
	cfg.SinglePath = c.Bool("single-path")
	cfg.StackCache = c.Bool("stack-cache")
	cfg.StackCacheSize = c.Int("stack-cache-size")
	cfg.StackCacheBlockSize = c.Int("stack-cache-block")
	cfg.MethodCacheSize = c.Int("method-cache-size")
	cfg.Bundles = c.Bool("bundles")
	cfg.MinimizeILP = c.Bool("min-ilp")
	cfg.LoopBound = c.Int("loop-bound")

	if l := c.String("sp-funcs"); l != "" {
		cfg.SinglePathFuncs = strings.Split(l, ",")
	}

	for _, a := range c.Args {
		out, err := compiler.CompileFile(ctx, a, cfg)
		if err != nil {
			return errors.Wrap(err, "compile %v", a)
		}

		fmt.Printf("%s", out)
	}

	return nil
}

func dumpAct(c *cli.Command) (err error) {
	for _, a := range c.Args {
		data, err := os.ReadFile(a)
		if err != nil {
			return errors.Wrap(err, "read %v", a)
		}

		for _, fsrc := range compiler.SplitFuncs(string(data)) {
			f, err := velo.Parse(fsrc)
			if err != nil {
				return errors.Wrap(err, "parse %v", a)
			}

			fmt.Printf("%s\n", f.Dump())
		}
	}

	return nil
}
