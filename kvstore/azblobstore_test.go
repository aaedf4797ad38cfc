package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/datatrails/go-datatrails-common/azblob"
	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBlobs is an in-memory BlobObjectStore. Misses surface the package
// sentinel directly, which is one of the two not-found shapes IsBlobNotFound
// accepts.
type fakeBlobs struct {
	blobs map[string][]byte
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{blobs: make(map[string][]byte)}
}

func (f *fakeBlobs) Reader(
	ctx context.Context,
	identity string,
	opts ...azblob.Option,
) (*azblob.ReaderResponse, error) {
	b, ok := f.blobs[identity]
	if !ok {
		return nil, fmt.Errorf("%s: %w", identity, ErrBlobNotFound)
	}
	return &azblob.ReaderResponse{Reader: azblob.NewBytesReaderCloser(b)}, nil
}

func (f *fakeBlobs) Put(
	ctx context.Context,
	identity string,
	source io.ReadSeekCloser,
	opts ...azblob.Option,
) (*azblob.WriteResponse, error) {
	data, err := io.ReadAll(source)
	if err != nil {
		return nil, err
	}
	f.blobs[identity] = data
	return &azblob.WriteResponse{}, nil
}

func (f *fakeBlobs) Delete(ctx context.Context, identity string) error {
	delete(f.blobs, identity)
	return nil
}

func TestBlobStoreKeyMapping(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	fake := newFakeBlobs()
	s := NewBlobStore(context.Background(), logger.Sugar, fake, "tenant/0/")

	key := []byte{0x01, 0xab}
	require.NoError(t, s.Write(key, []byte("payload")))

	// One storage key is one blob under the namespace, hex encoded.
	got, ok := fake.blobs["tenant/0/01ab"]
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
}

func TestBlobStoreRoundTrip(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	fake := newFakeBlobs()
	s := NewBlobStore(context.Background(), logger.Sugar, fake, "tenant/0/")

	key := []byte("k1")
	require.NoError(t, s.Write(key, []byte("v1")))

	data, ok, err := s.Read(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), data)

	ok, err = s.Has(key)
	require.NoError(t, err)
	assert.True(t, ok)

	// Absence is not an error.
	_, ok, err = s.Read([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Has([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Remove(key))
	_, ok, err = s.Read(key)
	require.NoError(t, err)
	assert.False(t, ok)

	// Removing an absent key is idempotent.
	require.NoError(t, s.Remove(key))
}

func TestIsBlobNotFound(t *testing.T) {
	assert.False(t, IsBlobNotFound(nil))
	assert.False(t, IsBlobNotFound(errors.New("some other failure")))
	assert.True(t, IsBlobNotFound(ErrBlobNotFound))
	assert.True(t, IsBlobNotFound(fmt.Errorf("path: %w", ErrBlobNotFound)))
}

func TestWrapBlobNotFoundPassthrough(t *testing.T) {
	assert.NoError(t, WrapBlobNotFound(nil))

	err := errors.New("unrelated")
	assert.Equal(t, err, WrapBlobNotFound(err))
}
