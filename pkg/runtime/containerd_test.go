package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/containerd/containerd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeImageStore scripts the image-resolution slice of the containerd
// client
type fakeImageStore struct {
	present bool
	pullErr error

	gets  int
	pulls int
}

func (f *fakeImageStore) GetImage(ctx context.Context, ref string) (containerd.Image, error) {
	f.gets++
	if !f.present {
		return nil, errors.New("image not found")
	}
	return nil, nil
}

func (f *fakeImageStore) Pull(ctx context.Context, ref string, opts ...containerd.RemoteOpt) (containerd.Image, error) {
	f.pulls++
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	f.present = true
	return nil, nil
}

func TestEnsureImagePresent(t *testing.T) {
	store := &fakeImageStore{present: true}

	_, err := ensureImage(context.Background(), store, "ghcr.io/acme/arena:1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.gets)
	assert.Zero(t, store.pulls, "a cached image must not be pulled again")
}

func TestEnsureImagePullsOnMiss(t *testing.T) {
	store := &fakeImageStore{}

	_, err := ensureImage(context.Background(), store, "ghcr.io/acme/arena:1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.pulls, "a fresh host pulls the image before creating")

	// The second resolve hits the content store
	_, err = ensureImage(context.Background(), store, "ghcr.io/acme/arena:1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.pulls)
}

func TestEnsureImagePullError(t *testing.T) {
	store := &fakeImageStore{pullErr: errors.New("registry unreachable")}

	_, err := ensureImage(context.Background(), store, "ghcr.io/acme/arena:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to pull image")
}
