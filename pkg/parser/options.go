package parser

// DefaultMaxToolNameLength caps tag name accumulation when Options leaves
// MaxToolNameLength at zero.
const DefaultMaxToolNameLength = 256

// Options tune extraction. The zero value gives the default behavior:
// unbounded parameter values, 256-byte tag names, entity decoding on and no
// name validation.
type Options struct {
	// MaxParameterValueLength caps a single parameter value in bytes.
	// Zero means unbounded.
	MaxParameterValueLength int

	// MaxToolNameLength caps the tag name accumulator in bytes. Zero
	// means DefaultMaxToolNameLength.
	MaxToolNameLength int

	// DisableEntityDecoding leaves entity references verbatim in
	// parameter values.
	DisableEntityDecoding bool

	// ValidateNames rejects opening tag names containing characters
	// other than letters, digits, '_', '-' and '.'.
	ValidateNames bool
}

func (o Options) normalized() Options {
	if o.MaxToolNameLength <= 0 {
		o.MaxToolNameLength = DefaultMaxToolNameLength
	}
	return o
}
