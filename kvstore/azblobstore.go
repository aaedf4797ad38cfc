package kvstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	azStorageBlob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/datatrails/go-datatrails-common/azblob"
	"github.com/datatrails/go-datatrails-common/logger"
)

const azblobBlobNotFound = "BlobNotFound"

var ErrBlobNotFound = errors.New("blob not found")

// blobReader and blobWriter are the narrow views of the datatrails azblob
// store wrapper this adapter consumes. Declaring them here, rather than
// depending on the wrapper's own aggregate interface, keeps the adapter
// testable without a live container.
type blobReader interface {
	Reader(
		ctx context.Context,
		identity string,
		opts ...azblob.Option,
	) (*azblob.ReaderResponse, error)
}

type blobWriter interface {
	Put(
		ctx context.Context,
		identity string,
		source io.ReadSeekCloser,
		opts ...azblob.Option,
	) (*azblob.WriteResponse, error)
}

type blobDeleter interface {
	Delete(ctx context.Context, identity string) error
}

// BlobObjectStore is the composition a BlobStore requires of its backend.
type BlobObjectStore interface {
	blobReader
	blobWriter
	blobDeleter
}

// BlobStore adapts a blob container to the Store contract. Each storage key
// becomes one blob at <prefixPath><hex(key)>, so a storemap namespace maps
// onto a listable blob prefix without any key ambiguity.
//
// The Store contract is synchronous and carries no context, matching the
// single-threaded per-call execution model of the container layer. The
// context supplied at construction scopes every blob operation the adapter
// makes and is expected to live for exactly one logical call.
type BlobStore struct {
	ctx        context.Context
	store      BlobObjectStore
	prefixPath string
	log        logger.Logger
}

func NewBlobStore(ctx context.Context, log logger.Logger, store BlobObjectStore, prefixPath string) *BlobStore {
	return &BlobStore{
		ctx:        ctx,
		store:      store,
		prefixPath: prefixPath,
		log:        log,
	}
}

func (s *BlobStore) blobPath(key []byte) string {
	return s.prefixPath + hex.EncodeToString(key)
}

func (s *BlobStore) Read(key []byte) ([]byte, bool, error) {
	path := s.blobPath(key)
	rr, err := s.store.Reader(s.ctx, path)
	if err != nil {
		if IsBlobNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	data, err := io.ReadAll(rr.Reader)
	if err != nil {
		return nil, false, err
	}
	s.log.Debugf("blobstore read: %s (%d bytes)", path, len(data))
	return data, true, nil
}

func (s *BlobStore) Write(key []byte, value []byte) error {
	path := s.blobPath(key)
	_, err := s.store.Put(s.ctx, path, azblob.NewBytesReaderCloser(value))
	if err != nil {
		return err
	}
	s.log.Debugf("blobstore write: %s (%d bytes)", path, len(value))
	return nil
}

func (s *BlobStore) Remove(key []byte) error {
	err := s.store.Delete(s.ctx, s.blobPath(key))
	if err != nil && !IsBlobNotFound(err) {
		return err
	}
	return nil
}

func (s *BlobStore) Has(key []byte) (bool, error) {
	// The wrapper's Reader call resolves blob metadata without consuming the
	// body, so existence costs a single round trip and no data transfer.
	_, err := s.store.Reader(s.ctx, s.blobPath(key))
	if err != nil {
		if IsBlobNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func asStorageError(err error) (azStorageBlob.StorageError, bool) {
	serr := &azStorageBlob.StorageError{}
	//nolint
	ierr, ok := err.(*azStorageBlob.InternalError)
	if ierr == nil || !ok {
		return azStorageBlob.StorageError{}, false
	}
	if !ierr.As(&serr) {
		return azStorageBlob.StorageError{}, false
	}
	return *serr, true
}

// WrapBlobNotFound translates err to ErrBlobNotFound if the underlying cause
// is the azure sdk blob not found error, otherwise err is returned as is,
// including when it is nil.
func WrapBlobNotFound(err error) error {
	if err == nil {
		return nil
	}
	serr, ok := asStorageError(err)
	if !ok {
		return err
	}
	if serr.ErrorCode != azblobBlobNotFound {
		return err
	}
	return fmt.Errorf("%s: %w", err.Error(), ErrBlobNotFound)
}

func IsBlobNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBlobNotFound) {
		return true
	}
	serr, ok := asStorageError(err)
	if !ok {
		return false
	}
	return serr.ErrorCode == azblobBlobNotFound
}
