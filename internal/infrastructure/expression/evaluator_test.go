package expression

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_EvalBool(t *testing.T) {
	e := NewEvaluator(nil)
	env := map[string]any{
		"kind":   "hazard",
		"step":   1,
		"form":   map[string]any{"severity": "high", "cost": 1200},
		"urgent": true,
	}

	tests := []struct {
		name    string
		expr    string
		want    bool
		wantErr bool
	}{
		{name: "form field", expr: `form.severity == "high"`, want: true},
		{name: "numeric compare", expr: `form.cost > 1000 && step >= 1`, want: true},
		{name: "top level bool", expr: `urgent`, want: true},
		{name: "false branch", expr: `kind == "permit"`, want: false},
		{name: "missing variable", expr: `missing`, want: false},
		{name: "membership", expr: `form.severity in ["high", "critical"]`, want: true},
		{name: "non bool result", expr: `form.cost + 1`, wantErr: true},
		{name: "syntax error", expr: `form.severity ==`, wantErr: true},
		{name: "empty", expr: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvalBool(tt.expr, env)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluator_Check(t *testing.T) {
	e := NewEvaluator(nil)

	assert.NoError(t, e.Check(`form.severity == "high"`))
	assert.Error(t, e.Check(`((`))
}

func TestEvaluator_CachesAcrossGoroutines(t *testing.T) {
	e := NewEvaluator(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := e.EvalBool(`n % 2 == 0`, map[string]any{"n": i})
			assert.NoError(t, err)
			assert.Equal(t, i%2 == 0, ok)
		}(i)
	}
	wg.Wait()

	assert.Len(t, e.cache, 1)
}
