package journal

const (
	// DefaultMaxEntryLength caps the total encoded size of one record.
	DefaultMaxEntryLength = 4 * 1024 * 1024
)

type Options struct {
	// MaxEntryLength rejects records whose encoded mdlength+dlength
	// exceeds it, independent of free space.
	MaxEntryLength uint64
}

func NewDefaultOptions() *Options {
	return &Options{
		MaxEntryLength: DefaultMaxEntryLength,
	}
}
