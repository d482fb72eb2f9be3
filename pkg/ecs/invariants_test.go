package ecs

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Seeded random churn over create/remove/reclaim, checking liveness and pool
// accounting after every step: allocated + free = maxEntities - 1.
func TestInvariantLivenessAndPoolAccounting(t *testing.T) {
	const maxEntities = 64
	w := newTestWorld(t, WorldOptions{MaxEntities: maxEntities})
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	live := make(map[uint32]bool)
	dead := make(map[uint32]bool) // removed, not yet reclaimed

	for step := 0; step < 500; step++ {
		switch op := rng.Intn(10); {
		case op < 5:
			id, err := w.CreateEntity()
			if err != nil {
				require.ErrorIs(t, err, ErrPoolExhausted)
				require.Equal(t, maxEntities-1, len(live)+len(dead), "exhaustion only when every id is claimed")
				continue
			}
			require.False(t, live[id], "step %d: live id %d handed out twice", step, id)
			require.False(t, dead[id], "step %d: unreclaimed id %d handed out", step, id)
			live[id] = true
		case op < 8:
			if len(live) == 0 {
				continue
			}
			var id uint32
			for id = range live {
				break
			}
			w.RemoveEntity(id)
			delete(live, id)
			dead[id] = true
		default:
			require.NoError(t, w.Execute(ctx))
			dead = make(map[uint32]bool)
		}

		for id := range live {
			assert.True(t, w.entityBuffer.Has(id))
		}
		for id := range dead {
			assert.False(t, w.entityBuffer.Has(id))
		}
	}
}

// Generation strictly increases (mod 128) across reclamations of one slot.
func TestInvariantGenerationMonotonic(t *testing.T) {
	w := newTestWorld(t, WorldOptions{MaxEntities: 4})
	ctx := context.Background()

	prev := -1
	for i := 0; i < 300; i++ {
		id, err := w.CreateEntity()
		require.NoError(t, err)
		require.Equal(t, uint32(1), id, "single-slot churn must always recycle id 1")

		gen := int(w.entityBuffer.GetGeneration(id))
		if prev >= 0 {
			assert.Equal(t, (prev+1)%maxGeneration, gen, "iteration %d", i)
		}
		prev = gen

		w.RemoveEntity(id)
		require.NoError(t, w.Execute(ctx))
	}
}

// Every field read returns the last value written, or the declared default
// if never written, across a random write sequence.
func TestInvariantLastWriteWins(t *testing.T) {
	def := &ComponentDef{
		Name: "scratch",
		Schema: Schema{
			{Name: "count", Field: Number(U16)},
			{Name: "ratio", Field: Number(F64).Default(1.0)},
			{Name: "tag", Field: String().Max(6).Default("none")},
			{Name: "flag", Field: Boolean()},
		},
	}
	w := newTestWorld(t, WorldOptions{MaxEntities: 32})
	comp, err := w.RegisterComponent(def)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	const n = 8
	ids := make([]uint32, n)
	expect := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		id, err := w.CreateEntity()
		require.NoError(t, err)
		require.NoError(t, w.AddComponent(def, id, nil))
		ids[i] = id
		expect[i] = map[string]any{
			"count": uint16(0), "ratio": 1.0, "tag": "none", "flag": false,
		}
	}

	tags := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	for step := 0; step < 400; step++ {
		i := rng.Intn(n)
		wv := comp.Write(ids[i])
		switch rng.Intn(4) {
		case 0:
			v := uint16(rng.Intn(1 << 16))
			wv.Set("count", v)
			expect[i]["count"] = v
		case 1:
			v := rng.Float64()
			wv.Set("ratio", v)
			expect[i]["ratio"] = v
		case 2:
			v := tags[rng.Intn(len(tags))]
			wv.Set("tag", v)
			expect[i]["tag"] = v
		case 3:
			v := rng.Intn(2) == 1
			wv.Set("flag", v)
			expect[i]["flag"] = v
		}
	}

	for i := 0; i < n; i++ {
		snap := comp.Snapshot(ids[i])
		assert.Equal(t, expect[i], snap, "entity %d", ids[i])
	}
}

// Ref reads resolve iff the target is live with an unchanged generation.
func TestInvariantRefValidity(t *testing.T) {
	link := &ComponentDef{
		Name:   "link",
		Schema: Schema{{Name: "target", Field: Ref()}},
	}
	w := newTestWorld(t, WorldOptions{MaxEntities: 32})
	comp, err := w.RegisterComponent(link)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(99))
	ctx := context.Background()

	holder, err := w.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, w.AddComponent(link, holder, nil))

	for round := 0; round < 50; round++ {
		target, err := w.CreateEntity()
		require.NoError(t, err)
		comp.Write(holder).Set("target", target)
		genAtWrite := w.entityBuffer.GetGeneration(target)

		require.Equal(t, target, comp.Read(holder).Get("target"))

		if rng.Intn(2) == 0 {
			w.RemoveEntity(target)
			require.NoError(t, w.Execute(ctx))
			assert.Nil(t, comp.Read(holder).Get("target"), "round %d: reclaimed target must read null", round)
		} else {
			assert.Equal(t, genAtWrite, w.entityBuffer.GetGeneration(target))
			assert.Equal(t, target, comp.Read(holder).Get("target"))
			w.RemoveEntity(target)
			require.NoError(t, w.Execute(ctx))
		}
	}
}
