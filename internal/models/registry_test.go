package models

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lumen-pipeline/internal/apperr"
)

type fakeImageModel struct {
	unloaded atomic.Bool
}

func (f *fakeImageModel) SynthesizeImage(context.Context, string) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
}

func (f *fakeImageModel) Unload(context.Context) error {
	f.unloaded.Store(true)
	return nil
}

func TestRegistryGetMissingModel(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t), false)
	r.Register(ImageModel, &fakeImageModel{})

	_, err := r.Get(PartsModel)
	require.Error(t, err)
	assert.Equal(t, apperr.KindModelNotLoaded, apperr.KindOf(err))
	assert.Contains(t, err.Error(), ImageModel)
	assert.True(t, r.Has(ImageModel))
	assert.False(t, r.Has(PartsModel))
}

func TestRegistryGetOrLoadRunsFactoryOnce(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t), false)
	var calls atomic.Int32
	release := make(chan struct{})
	factory := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return &fakeImageModel{}, nil
	}

	var wg sync.WaitGroup
	results := make([]any, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := r.GetOrLoad(context.Background(), MeshModel, factory)
			assert.NoError(t, err)
			results[i] = m
		}()
	}
	close(release)
	wg.Wait()

	// later calls take the fast path
	again, err := r.GetOrLoad(context.Background(), MeshModel, factory)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	for _, m := range results {
		assert.Same(t, again, m)
	}
	assert.Equal(t, []string{MeshModel}, r.LoadedNames())
}

func TestRegistryGetOrLoadIsIdempotent(t *testing.T) {
	r := NewRegistry(nil, false)
	calls := 0
	factory := func(context.Context) (any, error) {
		calls++
		return &fakeImageModel{}, nil
	}
	a, err := r.GetOrLoad(context.Background(), SegmenterModel, factory)
	require.NoError(t, err)
	b, err := r.GetOrLoad(context.Background(), SegmenterModel, factory)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, calls)
}

func TestRegistryGetOrLoadPropagatesFactoryError(t *testing.T) {
	r := NewRegistry(nil, false)
	_, err := r.GetOrLoad(context.Background(), MeshModel, func(context.Context) (any, error) {
		return nil, ErrDeviceOutOfMemory
	})
	require.Error(t, err)
	assert.True(t, IsOutOfMemory(err))
	assert.False(t, r.Has(MeshModel))
}

func TestRegistryUnload(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t), true)
	m := &fakeImageModel{}
	r.Register(ImageModel, m)
	r.Register(MeshModel, "opaque handle")

	require.NoError(t, r.Unload(context.Background(), ImageModel))
	assert.True(t, m.unloaded.Load())
	assert.Equal(t, []string{MeshModel}, r.LoadedNames())
	assert.NoError(t, r.Unload(context.Background(), "never-loaded"))
	assert.True(t, r.SkipLoading())
}

func TestTypedLookup(t *testing.T) {
	r := NewRegistry(nil, false)
	r.Register(ImageModel, &fakeImageModel{})
	r.Register(PartsModel, "not a model")

	img, err := Lookup[ImageSynthesizer](r, ImageModel)
	require.NoError(t, err)
	assert.NotNil(t, img)

	_, err = Lookup[PartMeshSynthesizer](r, PartsModel)
	assert.Error(t, err)

	_, err = Lookup[Segmenter](r, SegmenterModel)
	assert.True(t, apperr.Is(err, apperr.KindModelNotLoaded))

	loaded, err := LoadAs[ImageSynthesizer](context.Background(), r, "other", func(context.Context) (any, error) {
		return &fakeImageModel{}, nil
	})
	require.NoError(t, err)
	assert.NotNil(t, loaded)
}
