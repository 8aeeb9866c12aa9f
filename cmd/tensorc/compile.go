package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sbl8/tensorc/cache"
	"github.com/sbl8/tensorc/compiler"
	"github.com/sbl8/tensorc/expr"
	"github.com/sbl8/tensorc/model"
)

type compileFlags struct {
	output      string
	dim         int
	tensorTrees bool
	printTrees  bool
	cacheDir    string
}

func newCompileCmd() *cobra.Command {
	var f compileFlags
	cmd := &cobra.Command{
		Use:   "compile model.yaml",
		Short: "Compile a YAML model into a program file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, args[0], f)
		},
	}
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output file (default: model name with .tnsr)")
	cmd.Flags().IntVar(&f.dim, "dim", 0, "override the model dimension")
	cmd.Flags().BoolVar(&f.tensorTrees, "tensor-trees", false, "emit one tensor-valued kernel per equation")
	cmd.Flags().BoolVar(&f.printTrees, "print-trees", false, "print the serialized kernel trees")
	cmd.Flags().StringVar(&f.cacheDir, "cache", "", "program cache directory")
	return cmd
}

func runCompile(cmd *cobra.Command, path string, f compileFlags) error {
	source, m, err := loadModel(path, f.dim)
	if err != nil {
		return err
	}
	opts := compiler.DefaultOptions()
	opts.Scalarize = !f.tensorTrees

	compile := func() (*model.Program, error) {
		return compiler.Compile(cmd.Context(), m.System, opts)
	}

	start := time.Now()
	var (
		prog *model.Program
		hit  bool
	)
	if f.cacheDir != "" {
		c, err := cache.Open(cache.Config{Path: f.cacheDir, Logger: slog.Default()})
		if err != nil {
			return err
		}
		defer c.Close()
		prog, hit, err = c.GetOrCompile(cache.Key(source, opts), compile)
		if err != nil {
			return err
		}
	} else if prog, err = compile(); err != nil {
		return err
	}

	output := f.output
	if output == "" {
		output = strings.TrimSuffix(path, filepath.Ext(path)) + ".tnsr"
	}
	if err := model.WriteFile(output, prog); err != nil {
		return err
	}
	slog.Info("compiled model",
		"model", prog.Name,
		"program_id", prog.ID,
		"kernels", len(prog.Kernels),
		"nodes", prog.Nodes(),
		"stack_depth", prog.StackDepth(),
		"outputs", prog.Width(),
		"cached", hit,
		"elapsed", time.Since(start),
		"output", output,
	)

	if f.printTrees {
		printProgram(cmd.OutOrStdout(), prog)
	}
	return nil
}

// loadModel reads a model source, applying a dimension override when dim is
// positive. The returned source reflects the override so cache keys differ.
func loadModel(path string, dim int) ([]byte, *compiler.Model, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read %s", path)
	}
	src, err := compiler.DecodeModelSource(source)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "load %s", path)
	}
	if dim > 0 {
		src.Dimension = dim
		source = append(source, fmt.Sprintf("\n# dimension override %d\n", dim)...)
	}
	m, err := src.Build()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "load %s", path)
	}
	return source, m, nil
}

func printProgram(w io.Writer, prog *model.Program) {
	keys := prog.OutputKeys()
	for i, k := range prog.Kernels {
		targets := make([]string, len(k.Targets))
		for j, t := range k.Targets {
			targets[j] = keys[t]
		}
		fmt.Fprintf(w, "kernel %d -> %s (depth %d)\n", i, strings.Join(targets, " "), k.Tree.StackDepth)
		printTree(w, prog, k.Tree)
	}
}

func printTree(w io.Writer, prog *model.Program, t *model.Tree) {
	for i := 0; i < t.Len(); i++ {
		left, right := t.Children(i)
		fmt.Fprintf(w, "  %3d %-9s outer=%-4q off=%-4d size=%-3d", i, t.Tags[i], t.Outer.Row(i), t.Offsets[i], t.Size(i))
		if left != model.NoChild {
			fmt.Fprintf(w, " left=%d", left)
		}
		if right != model.NoChild {
			fmt.Fprintf(w, " right=%d", right)
		}
		switch t.Tags[i] {
		case expr.TagLiteral:
			fmt.Fprintf(w, " value=%g", t.Values[i])
		case expr.TagFunc:
			fmt.Fprintf(w, " func=%s", t.Funcs[i])
		case expr.TagScalar, expr.TagConstant:
			refs := prog.Catalog.Scalars
			if t.Tags[i] == expr.TagConstant {
				refs = prog.Catalog.Constants
			}
			ids := t.IDs.Row(i)
			names := make([]string, len(ids))
			for j, id := range ids {
				names[j] = refs[id].Key()
			}
			fmt.Fprintf(w, " refs=%s", strings.Join(names, ","))
		}
		fmt.Fprintln(w)
	}
}
