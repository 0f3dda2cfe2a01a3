package compiler

import (
	"context"
	"os"

	"tlog.app/go/errors"
)

// CompileFile processes all functions of one source file.
func CompileFile(ctx context.Context, name string, cfg *Config) (string, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return "", errors.Wrap(err, "read source")
	}

	return Compile(ctx, string(data), cfg)
}
