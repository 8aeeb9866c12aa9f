package cache

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/tensorc/compiler"
	"github.com/sbl8/tensorc/model"
)

const heat = `
name: heat
dimension: 2
tensors:
  - {name: u, order: 0}
  - {name: kappa, order: 0}
equations:
  - {lhs: u, rhs: "kappa * D(u, i, i)"}
constants:
  kappa: 0.1
`

func openMemory(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func compileHeat(*testing.T) func() (*model.Program, error) {
	return func() (*model.Program, error) {
		m, err := compiler.ParseModel([]byte(heat))
		if err != nil {
			return nil, err
		}
		return compiler.Compile(context.Background(), m.System, compiler.DefaultOptions())
	}
}

func TestKey(t *testing.T) {
	t.Parallel()
	opts := compiler.DefaultOptions()
	k := Key([]byte(heat), opts)
	assert.Len(t, k, 64)
	assert.Equal(t, k, Key([]byte(heat), opts))
	assert.NotEqual(t, k, Key([]byte(heat+"\n"), opts))

	opts.Scalarize = false
	assert.NotEqual(t, k, Key([]byte(heat), opts))
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestPutGet(t *testing.T) {
	t.Parallel()
	c := openMemory(t)

	_, ok, err := c.Get("absent")
	require.NoError(t, err)
	assert.False(t, ok)

	prog, err := compileHeat(t)()
	require.NoError(t, err)
	require.NoError(t, c.Put("heat", prog))

	got, ok, err := c.Get("heat")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, prog.ID, got.ID)
	assert.Equal(t, prog.OutputKeys(), got.OutputKeys())
	assert.Equal(t, prog.Catalog.ScalarKeys(), got.Catalog.ScalarKeys())

	require.NoError(t, c.Delete("heat"))
	_, ok, err = c.Get("heat")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, Stats{Hits: 1, Misses: 2}, c.Stats())
}

func TestPersistsAcrossOpen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c, err := Open(Config{Path: dir})
	require.NoError(t, err)
	prog, err := compileHeat(t)()
	require.NoError(t, err)
	require.NoError(t, c.Put("heat", prog))
	require.NoError(t, c.Close())

	c, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer c.Close()
	got, ok, err := c.Get("heat")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, prog.ID, got.ID)
}

func TestGetOrCompileDedupes(t *testing.T) {
	t.Parallel()
	c := openMemory(t)
	var calls atomic.Int32
	release := make(chan struct{})
	compile := func() (*model.Program, error) {
		calls.Add(1)
		<-release
		return compileHeat(t)()
	}

	const callers = 8
	var wg sync.WaitGroup
	progs := make([]*model.Program, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, _, err := c.GetOrCompile("heat", compile)
			assert.NoError(t, err)
			progs[i] = p
		}()
	}
	// Let every caller miss and join the flight before the compile finishes.
	for c.Stats().Misses < callers {
		runtime.Gosched()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, p := range progs {
		assert.Same(t, progs[0], p)
	}

	p, hit, err := c.GetOrCompile("heat", compile)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, progs[0].ID, p.ID)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrCompileError(t *testing.T) {
	t.Parallel()
	c := openMemory(t)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompile("k", func() (*model.Program, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	_, ok, err := c.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}
