package watermark

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/cuongbtq/imgembed/internal/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listerFunc func(ctx context.Context, c host.ContainerID) ([]host.Entity, error)

func (f listerFunc) Entities(ctx context.Context, c host.ContainerID) ([]host.Entity, error) {
	return f(ctx, c)
}

func staticLister(entities ...host.Entity) Lister {
	return listerFunc(func(context.Context, host.ContainerID) ([]host.Entity, error) {
		return entities, nil
	})
}

func TestCapture(t *testing.T) {
	ctx := context.Background()

	got, err := Capture(ctx, staticLister(), "PS")
	require.NoError(t, err)
	assert.Equal(t, host.EntityID(0), got)

	got, err = Capture(ctx, staticLister(
		host.Entity{ID: 0x20}, host.Entity{ID: 0x3F}, host.Entity{ID: 0x21},
	), "PS")
	require.NoError(t, err)
	assert.Equal(t, host.EntityID(0x3F), got)

	_, err = Capture(ctx, listerFunc(func(context.Context, host.ContainerID) ([]host.Entity, error) {
		return nil, errors.New("db closed")
	}), "PS")
	assert.ErrorContains(t, err, "db closed")
}

func TestNewest(t *testing.T) {
	tests := []struct {
		name     string
		entities []host.Entity
		bound    host.EntityID
		wantID   host.EntityID
		wantOK   bool
	}{
		{
			name:     "nothing above bound",
			entities: []host.Entity{{ID: 1, Kind: host.KindEmbeddedFrame}, {ID: 5}},
			bound:    5,
		},
		{
			name: "preferred kind wins over a newer auxiliary record",
			entities: []host.Entity{
				{ID: 6, Kind: host.KindEmbeddedFrame},
				{ID: 7, Kind: host.KindOther},
			},
			bound:  5,
			wantID: 6,
			wantOK: true,
		},
		{
			name: "highest preferred",
			entities: []host.Entity{
				{ID: 9, Kind: host.KindEmbeddedFrame},
				{ID: 3, Kind: host.KindEmbeddedFrame},
				{ID: 8, Kind: host.KindEmbeddedFrame},
			},
			bound:  2,
			wantID: 9,
			wantOK: true,
		},
		{
			name: "falls back to any kind",
			entities: []host.Entity{
				{ID: 4, Kind: host.KindEmbeddedFrame},
				{ID: 11, Kind: host.KindOther},
				{ID: 10, Kind: host.KindRasterImage},
			},
			bound:  5,
			wantID: 11,
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Newest(tt.entities, tt.bound, host.KindEmbeddedFrame)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantID, got.ID)
			}
		})
	}
}

func TestNewest_RandomizedProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	kinds := []host.Kind{host.KindEmbeddedFrame, host.KindOther, host.KindRasterImage}

	for i := 0; i < 500; i++ {
		n := rng.Intn(12)
		entities := make([]host.Entity, n)
		for j := range entities {
			entities[j] = host.Entity{
				ID:   host.EntityID(rng.Intn(40) + 1),
				Kind: kinds[rng.Intn(len(kinds))],
			}
		}
		bound := host.EntityID(rng.Intn(40))

		got, ok := Newest(entities, bound, host.KindEmbeddedFrame)

		var maxPreferred host.EntityID
		for _, e := range entities {
			if e.ID > bound && e.Kind == host.KindEmbeddedFrame && e.ID > maxPreferred {
				maxPreferred = e.ID
			}
		}

		if !ok {
			for _, e := range entities {
				require.LessOrEqual(t, e.ID, bound)
			}
			continue
		}

		require.Greater(t, got.ID, bound)
		if maxPreferred > 0 {
			require.Equal(t, host.KindEmbeddedFrame, got.Kind)
			require.Equal(t, maxPreferred, got.ID)
		}
	}
}

func TestFindNewest(t *testing.T) {
	l := staticLister(host.Entity{ID: 2}, host.Entity{ID: 3, Kind: host.KindEmbeddedFrame})

	got, ok, err := FindNewest(context.Background(), l, "PS", 1, host.KindEmbeddedFrame)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, host.EntityID(3), got.ID)
}
