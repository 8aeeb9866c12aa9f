package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/tensorc/model"
)

const heatModel = `name: heat
dimension: 2
tensors:
  - {name: u, order: 0}
  - {name: kappa, order: 0}
equations:
  - {lhs: u, rhs: "kappa * D(u, i, i)"}
constants:
  kappa: 0.1
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeModel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "heat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(heatModel), 0o644))
	return path
}

func TestCompileAndRun(t *testing.T) {
	path := writeModel(t)
	out, err := execute(t, "compile", path, "--print-trees")
	require.NoError(t, err)
	assert.Contains(t, out, "kernel 0 -> u")

	program := strings.TrimSuffix(path, ".yaml") + ".tnsr"
	prog, err := model.ReadFile(program)
	require.NoError(t, err)
	assert.Equal(t, "heat", prog.Name)
	assert.Equal(t, 2, prog.Dim)

	out, err = execute(t, "run", program, "--points", "64", "--model", path)
	require.NoError(t, err)
	assert.Contains(t, out, "mean")
	assert.Contains(t, out, "u ")

	_, err = execute(t, "run", program, "--points", "64")
	assert.Error(t, err, "kappa is unbound without --model or --constant")

	_, err = execute(t, "run", program, "--points", "64", "--constant", "kappa=0.5")
	assert.NoError(t, err)
}

func TestCompileWithCacheAndDimension(t *testing.T) {
	path := writeModel(t)
	dir := t.TempDir()
	output := filepath.Join(dir, "heat3.tnsr")
	for i := 0; i < 2; i++ {
		_, err := execute(t, "compile", path, "--dim", "3", "--cache", filepath.Join(dir, "cache"), "-o", output)
		require.NoError(t, err)
	}
	prog, err := model.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, 3, prog.Dim)
}

func TestCollectBindings(t *testing.T) {
	path := writeModel(t)
	got, err := collectBindings(path, []string{"kappa=2", "c=1.5"})
	require.NoError(t, err)
	assert.Equal(t, []model.Binding{{Name: "kappa", Value: 2}, {Name: "c", Value: 1.5}}, got)

	for _, bad := range []string{"kappa", "=1", "kappa=x"} {
		_, err := collectBindings("", []string{bad})
		assert.Error(t, err, bad)
	}
}

func TestVersionAndPerf(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tensorc dev")

	out, err = execute(t, "perf", writeModel(t), "--points", "32", "--iter", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "scalar kernels")
	assert.Contains(t, out, "tensor kernels")
	assert.Contains(t, out, "Parallel:")
}

func TestBadFlags(t *testing.T) {
	_, err := execute(t, "--log-format", "xml", "version")
	assert.Error(t, err)
	_, err = execute(t, "compile", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
