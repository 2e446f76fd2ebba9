package pool_test

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/discernment/internal/errors"
	"github.com/victornm/discernment/internal/pool"
)

func TestLoad_EmbeddedCatalogs(t *testing.T) {
	r, err := pool.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"advanced", "basic", "hard", "pro"}, r.Tiers("any"))
	assert.Equal(t, pool.DefaultTier, r.Default("any"))

	p, err := r.Pool("any", "basic")
	require.NoError(t, err)
	require.Equal(t, 3, p.Len())
	assert.Equal(t, []string{"A1", "A2", "A3"}, []string{p.Tasks[0].ID, p.Tasks[1].ID, p.Tasks[2].ID})
	assert.False(t, p.Premium)

	pro, err := r.Pool("any", "pro")
	require.NoError(t, err)
	assert.True(t, pro.Premium)
}

func TestRegistry_Pool(t *testing.T) {
	policy := pool.Policy{
		"lite": {Tiers: []string{"basic", "advanced"}},
		"main": {Default: "advanced"},
	}
	r, err := pool.Load(policy)
	require.NoError(t, err)

	tests := map[string]struct {
		bot      string
		tier     string
		wantTier string
		wantErr  bool
	}{
		"exposed tier": {
			bot: "lite", tier: "advanced", wantTier: "advanced",
		},
		"tier key is normalized": {
			bot: "lite", tier: "  Basic ", wantTier: "basic",
		},
		"empty tier falls back to the bot default": {
			bot: "main", tier: "", wantTier: "advanced",
		},
		"empty tier without a configured default is basic": {
			bot: "lite", tier: "", wantTier: "basic",
		},
		"tier hidden by policy": {
			bot: "lite", tier: "hard", wantErr: true,
		},
		"unknown tier": {
			bot: "main", tier: "expert", wantErr: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			p, err := r.Pool(tt.bot, tt.tier)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsReason(err, errors.ReasonUnknownTier))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantTier, p.Tier)
		})
	}
}

func TestRegistry_Deterministic(t *testing.T) {
	r, err := pool.Load(nil)
	require.NoError(t, err)

	a, err := r.Pool("main", "hard")
	require.NoError(t, err)
	b, err := r.Pool("main", "hard")
	require.NoError(t, err)

	assert.Same(t, a, b)
}

func TestLoadFS_Invalid(t *testing.T) {
	const valid = `
tier: basic
tasks:
  - id: A1
    text: q
    options: [a, b]
    answer: a
    xp: 1
`

	tests := map[string]struct {
		files  fstest.MapFS
		policy pool.Policy
	}{
		"no catalogs": {
			files: fstest.MapFS{},
		},
		"missing tier": {
			files: fstest.MapFS{"x.yaml": {Data: []byte("tasks: []")}},
		},
		"no tasks": {
			files: fstest.MapFS{"x.yaml": {Data: []byte("tier: basic\ntasks: []")}},
		},
		"answer not in options": {
			files: fstest.MapFS{"x.yaml": {Data: []byte(`
tier: basic
tasks:
  - {id: A1, text: q, options: [a, b], answer: c, xp: 1}
`)}},
		},
		"duplicate task id": {
			files: fstest.MapFS{"x.yaml": {Data: []byte(`
tier: basic
tasks:
  - {id: A1, text: q, options: [a, b], answer: a, xp: 1}
  - {id: A1, text: q, options: [a, b], answer: b, xp: 1}
`)}},
		},
		"negative xp": {
			files: fstest.MapFS{"x.yaml": {Data: []byte(`
tier: basic
tasks:
  - {id: A1, text: q, options: [a, b], answer: a, xp: -1}
`)}},
		},
		"duplicate tier": {
			files: fstest.MapFS{
				"a.yaml": {Data: []byte(valid)},
				"b.yaml": {Data: []byte(valid)},
			},
		},
		"policy names unknown tier": {
			files:  fstest.MapFS{"a.yaml": {Data: []byte(valid)}},
			policy: pool.Policy{"main": {Tiers: []string{"hard"}}},
		},
		"policy default not exposed": {
			files:  fstest.MapFS{"a.yaml": {Data: []byte(valid)}},
			policy: pool.Policy{"main": {Default: "hard"}},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := pool.LoadFS(tt.files, tt.policy)
			assert.Error(t, err)
		})
	}
}
