package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityBufferLifecycle(t *testing.T) {
	b := NewEntityBuffer(16, 8)

	assert.False(t, b.Has(1))

	b.Create(1)
	assert.True(t, b.Has(1))
	assert.Equal(t, uint32(0), b.GetGeneration(1))

	b.MarkDead(1)
	assert.False(t, b.Has(1), "marked dead entity must not be live")
	assert.Equal(t, uint32(0), b.GetGeneration(1), "generation survives MarkDead")

	b.Delete(1)
	assert.False(t, b.Has(1))
	assert.Equal(t, uint32(1), b.GetGeneration(1), "Delete bumps generation for the next occupant")

	b.Create(1)
	assert.True(t, b.Has(1))
	assert.Equal(t, uint32(1), b.GetGeneration(1), "recycled slot keeps the bumped generation")
}

func TestEntityBufferGenerationWraps(t *testing.T) {
	b := NewEntityBuffer(4, 2)

	for i := 0; i < maxGeneration+2; i++ {
		b.Create(2)
		b.MarkDead(2)
		b.Delete(2)
	}
	// 130 delete bumps mod 128.
	assert.Equal(t, uint32(2), b.GetGeneration(2))
}

func TestEntityBufferMembership(t *testing.T) {
	b := NewEntityBuffer(16, 40) // 40 components spans two bitmap words

	b.Create(3)
	assert.False(t, b.HasComponent(3, 0))

	b.AddComponentToEntity(3, 0)
	b.AddComponentToEntity(3, 31)
	b.AddComponentToEntity(3, 39)
	assert.True(t, b.HasComponent(3, 0))
	assert.True(t, b.HasComponent(3, 31))
	assert.True(t, b.HasComponent(3, 39))
	assert.False(t, b.HasComponent(3, 15))

	assert.Equal(t, []uint32{0, 31, 39}, b.GetComponentIDs(3))

	b.RemoveComponentFromEntity(3, 31)
	assert.False(t, b.HasComponent(3, 31))
	assert.Equal(t, []uint32{0, 39}, b.GetComponentIDs(3))

	// Create resets the bitmap.
	b.Create(3)
	assert.Empty(t, b.GetComponentIDs(3))
}

func TestEntityBufferMarkDeadPreservesMembership(t *testing.T) {
	b := NewEntityBuffer(8, 4)
	b.Create(5)
	b.AddComponentToEntity(5, 2)

	b.MarkDead(5)
	assert.True(t, b.HasComponent(5, 2), "REMOVED observers can still read membership until reclamation")

	b.Delete(5)
	assert.False(t, b.HasComponent(5, 2))
}

func TestEntityBufferMatches(t *testing.T) {
	b := NewEntityBuffer(8, 40)
	b.Create(1)
	b.AddComponentToEntity(1, 0)
	b.AddComponentToEntity(1, 2)
	b.AddComponentToEntity(1, 35)

	words := func(ids ...uint32) []uint32 {
		w := make([]uint32, 2)
		for _, id := range ids {
			w[id/wordBits] |= 1 << (id % wordBits)
		}
		return w
	}

	tests := []struct {
		name                string
		with, without, anyM []uint32
		want                bool
	}{
		{"with all present", words(0, 2), nil, nil, true},
		{"with across words", words(0, 35), nil, nil, true},
		{"with missing bit", words(0, 1), nil, nil, false},
		{"without clear", words(0), words(1), nil, true},
		{"without violated", words(0), words(2), nil, false},
		{"without in high word", nil, words(36), nil, true},
		{"any matched", nil, nil, words(2, 7), true},
		{"any high word matched", nil, nil, words(35, 7), true},
		{"any unmatched", nil, nil, words(1, 7), false},
		{"any empty means skip", words(0), nil, words(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Matches(1, tt.with, tt.without, tt.anyM))
		})
	}
}

func TestEntityBufferDimensions(t *testing.T) {
	b := NewEntityBuffer(100, 40)
	require.Equal(t, uint32(100), b.MaxEntities())
	require.Equal(t, uint32(40), b.ComponentCount())
}
