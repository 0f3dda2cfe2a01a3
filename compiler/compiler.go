package compiler

import (
	"context"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/veloarch/velo/compiler/analysis"
	"github.com/veloarch/velo/compiler/frame"
	"github.com/veloarch/velo/compiler/sched"
	"github.com/veloarch/velo/compiler/singlepath"
	"github.com/veloarch/velo/compiler/velo"
)

type (
	// Config selects the transformations and the machine parameters.
	Config struct {
		SinglePath      bool
		SinglePathFuncs []string // empty means every function

		StackCache          bool
		StackCacheSize      int
		StackCacheBlockSize int

		MethodCacheSize int

		Bundles     bool
		MinimizeILP bool

		// LoopBound is the placeholder iteration bound loaded in
		// loop preheaders until a bound analysis provides real ones.
		LoopBound int
	}
)

func DefaultConfig() *Config {
	return &Config{
		StackCache:          true,
		StackCacheSize:      1024,
		StackCacheBlockSize: 8,
		MethodCacheSize:     4096,
		Bundles:             true,
		LoopBound:           128,
	}
}

func (c *Config) singlePath(name string) bool {
	if !c.SinglePath {
		return false
	}

	if len(c.SinglePathFuncs) == 0 {
		return true
	}

	for _, f := range c.SinglePathFuncs {
		if f == name {
			return true
		}
	}

	return false
}

// Compile runs the full pass sequence over every function of the
// textual source and renders the result back.
func Compile(ctx context.Context, src string, cfg *Config) (_ string, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile")
	defer tr.Finish("err", &err)

	var out strings.Builder

	for _, fsrc := range SplitFuncs(src) {
		f, err := velo.Parse(fsrc)
		if err != nil {
			return "", errors.Wrap(err, "parse")
		}

		err = ProcessFunction(ctx, f, cfg)
		if err != nil {
			return "", errors.Wrap(err, "func %v", f.Name)
		}

		out.WriteString(f.Dump())
		out.WriteByte('\n')
	}

	return out.String(), nil
}

// ProcessFunction applies the fixed pass order: single path reduction
// first, then frame lowering, scheduling last. Later passes rely on
// the invariants of the earlier ones.
func ProcessFunction(ctx context.Context, f *velo.Func, cfg *Config) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "process function", "name", f.Name)
	defer tr.Finish("err", &err)

	if cfg.singlePath(f.Name) {
		err = reduceSinglePath(ctx, f, cfg)
		if err != nil {
			return errors.Wrap(err, "single path")
		}
	}

	frame.ReserveCalleeSaved(f)

	cacheSize := 0
	if cfg.StackCache {
		cacheSize = cfg.StackCacheSize
	}

	err = frame.Assign(ctx, f, cacheSize, cfg.StackCacheBlockSize)
	if err != nil {
		return errors.Wrap(err, "assign frame")
	}

	err = frame.Emit(ctx, f, cfg.MethodCacheSize)
	if err != nil {
		return errors.Wrap(err, "prologue")
	}

	err = frame.LowerIndices(ctx, f)
	if err != nil {
		return errors.Wrap(err, "lower frame indices")
	}

	err = sched.Run(ctx, f, sched.Options{Bundles: cfg.Bundles, MinimizeILP: cfg.MinimizeILP})
	if err != nil {
		return errors.Wrap(err, "schedule")
	}

	return nil
}

func reduceSinglePath(ctx context.Context, f *velo.Func, cfg *Config) error {
	pdom, err := analysis.PostDominators(f)
	if err != nil {
		return err
	}

	dom := analysis.Dominators(f)
	loops := analysis.FindLoops(f, dom)

	root, err := singlepath.BuildTree(f, loops)
	if err != nil {
		return err
	}

	in, err := singlepath.Analyze(ctx, f, pdom)
	if err != nil {
		return err
	}

	counterFIs := singlepath.Prepare(ctx, f, root)

	return singlepath.Reduce(ctx, f, in, root, singlepath.ConstBound(cfg.LoopBound), counterFIs)
}

// SplitFuncs cuts the source into per-function chunks.
func SplitFuncs(src string) []string {
	var chunks []string

	lines := strings.Split(src, "\n")
	start := -1

	for i, l := range lines {
		if !strings.HasPrefix(strings.TrimSpace(l), "func ") {
			continue
		}

		if start >= 0 {
			chunks = append(chunks, strings.Join(lines[start:i], "\n"))
		}

		start = i
	}

	if start >= 0 {
		chunks = append(chunks, strings.Join(lines[start:], "\n"))
	}

	return chunks
}
