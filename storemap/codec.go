package storemap

import (
	"fmt"

	"github.com/datatrails/go-datatrails-common/cbor"
)

// NewCodec returns the CBOR codec used for all container values and logical
// keys. The encode options are deterministic, which matters for keys:
// the same logical key must always derive the same storage key.
func NewCodec() (cbor.CBORCodec, error) {
	codec, err := cbor.NewCBORCodec(
		cbor.NewDeterministicEncOpts(),
		cbor.NewDeterministicDecOpts(),
	)
	if err != nil {
		return cbor.CBORCodec{}, err
	}
	return codec, nil
}

// decodeErr wraps a codec decode failure as ErrInconsistentState. Bytes
// under a container's keys were written by the container itself, so failing
// to decode them means the stored state is corrupt, not absent.
func decodeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrInconsistentState, err)
}
