package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/agentgist/internal/config"
	"github.com/lucasnoah/agentgist/internal/errs"
)

func testConfig() *config.Config {
	return &config.Config{
		BackendForSimple:  "fast",
		BackendForComplex: "deep",
		Backends: map[string]config.Backend{
			"fast": {Provider: "groq", Model: "llama-3.3-70b-versatile"},
			"deep": {Provider: "groq", Model: "deepseek-r1-distill-llama-70b"},
		},
	}
}

func TestComplexityFor(t *testing.T) {
	assert.Equal(t, Simple, ComplexityFor(TaskAnalyze))
	assert.Equal(t, Complex, ComplexityFor(TaskReport))
	assert.Equal(t, Complexity(""), ComplexityFor(Task("translate")))
}

func TestSelect(t *testing.T) {
	r := New(testConfig())

	b, err := r.SelectFor(TaskAnalyze)
	require.NoError(t, err)
	assert.Equal(t, "fast", b.ID)
	assert.Equal(t, "llama-3.3-70b-versatile", b.Model)

	b, err = r.SelectFor(TaskReport)
	require.NoError(t, err)
	assert.Equal(t, "deep", b.ID)
}

func TestSelectDeterministic(t *testing.T) {
	r := New(testConfig())
	for i := 0; i < 10; i++ {
		b, err := r.Select(Complex)
		require.NoError(t, err)
		assert.Equal(t, "deep", b.ID)
	}
}

func TestSelectUnroutable(t *testing.T) {
	r := New(testConfig())

	_, err := r.Select(Complexity("medium"))
	var unroutable *errs.UnroutableTaskError
	require.True(t, errors.As(err, &unroutable))
	assert.Equal(t, "medium", unroutable.Complexity)
	assert.False(t, errs.Retryable(err))

	_, err = r.SelectFor(Task("translate"))
	require.True(t, errors.As(err, &unroutable))
}

func TestSelectDanglingBackend(t *testing.T) {
	cfg := testConfig()
	cfg.BackendForComplex = "gone"
	r := New(cfg)

	_, err := r.Select(Complex)
	var unroutable *errs.UnroutableTaskError
	require.True(t, errors.As(err, &unroutable))
	assert.Equal(t, "gone", unroutable.Backend)
}

func TestRouterIgnoresLaterConfigChanges(t *testing.T) {
	cfg := testConfig()
	r := New(cfg)
	cfg.BackendForSimple = "deep"
	cfg.Backends["fast"] = config.Backend{Model: "changed"}

	b, err := r.Select(Simple)
	require.NoError(t, err)
	assert.Equal(t, "llama-3.3-70b-versatile", b.Model)
}

func TestTable(t *testing.T) {
	table := New(testConfig()).Table()
	require.Len(t, table, 2)
	assert.Equal(t, Route{Complexity: Simple, Backend: "fast", Model: "llama-3.3-70b-versatile"}, table[0])
	assert.Equal(t, Complex, table[1].Complexity)
}
