package storemap

import (
	"github.com/datatrails/go-datatrails-common/cbor"
)

// Option is a generic option type for container construction. Constructors
// type assert to their own options record and ignore options that do not
// apply to them.
type Option func(any)

type containerOptions struct {
	scheme KeyScheme
	// schemeSet distinguishes "caller chose identity" from "caller chose
	// nothing", so containers can apply their own default scheme.
	schemeSet bool
	codec     *cbor.CBORCodec
}

// WithKeyScheme selects the storage key derivation scheme for the container.
// Maps default to SchemeIdentity; TreeMap defaults to SchemeSHA256 because
// its keys are also embedded in tree nodes and a bounded storage key is
// usually wanted there.
func WithKeyScheme(s KeyScheme) Option {
	return func(opts any) {
		if o, ok := opts.(*containerOptions); ok {
			o.scheme = s
			o.schemeSet = true
		}
	}
}

// WithCodec supplies a shared CBOR codec, saving per-container construction.
func WithCodec(codec *cbor.CBORCodec) Option {
	return func(opts any) {
		if o, ok := opts.(*containerOptions); ok {
			o.codec = codec
		}
	}
}

func resolveOptions(defaultScheme KeyScheme, opts ...Option) (containerOptions, error) {
	o := containerOptions{scheme: defaultScheme}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.scheme.valid() {
		return containerOptions{}, ErrBadKeyScheme
	}
	if o.codec == nil {
		codec, err := NewCodec()
		if err != nil {
			return containerOptions{}, err
		}
		o.codec = &codec
	}
	return o, nil
}
