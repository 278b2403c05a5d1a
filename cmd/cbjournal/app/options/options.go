package options

import (
	"fmt"

	"cbjournal/pkg/journal"

	"github.com/spf13/pflag"
)

type Options struct {
	jopts *journal.Options

	Device    string
	BlockSize uint32
	Start     uint64
	End       uint64

	Offset uint64
	Limit  int

	Metadata string
	Data     string
	Count    int
}

func New() *Options {
	return &Options{
		jopts:     journal.NewDefaultOptions(),
		BlockSize: 4096,
		Count:     1,
	}
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Device, "device", o.Device,
		"Path of the block device or backing file")
	fs.Uint32Var(&o.BlockSize, "block-size", o.BlockSize,
		"Device block size (bytes)")
	fs.Uint64Var(&o.Start, "start", o.Start,
		"Region start offset on the device (bytes)")
	fs.Uint64Var(&o.End, "end", o.End,
		"Region end offset on the device (bytes); required by mkfs, other commands default to the backing file size")
	fs.Uint64Var(&o.jopts.MaxEntryLength, "max-entry-length", o.jopts.MaxEntryLength,
		"Hard cap on a single record's encoded size (bytes)")
}

// Validate will check the requirements of options
func (o *Options) Validate() []error {
	var errs []error
	if o.Device == "" {
		errs = append(errs, fmt.Errorf("--device is required"))
	}
	if o.BlockSize < 512 || o.BlockSize&(o.BlockSize-1) != 0 {
		errs = append(errs, fmt.Errorf("--block-size must be a power of two, at least 512"))
	}
	return errs
}

func (o *Options) JournalOptions() *journal.Options {
	return o.jopts
}

// DumpOptions adds the record-walk flags on top of the common set.
type DumpOptions struct {
	*Options
}

func (o DumpOptions) AddFlags(fs *pflag.FlagSet) {
	o.Options.AddFlags(fs)
	fs.Uint64Var(&o.Options.Offset, "offset", o.Options.Offset,
		"Logical offset to start walking records from (bytes)")
	fs.IntVar(&o.Options.Limit, "limit", o.Options.Limit,
		"Stop after this many records (0 walks until the first torn frame)")
}

// AppendOptions adds the record-content flags on top of the common set.
type AppendOptions struct {
	*Options
}

func (o AppendOptions) AddFlags(fs *pflag.FlagSet) {
	o.Options.AddFlags(fs)
	fs.StringVar(&o.Options.Metadata, "metadata", o.Options.Metadata,
		"Inline metadata of the appended record")
	fs.StringVar(&o.Options.Data, "data", o.Options.Data,
		"Data payload of the appended record")
	fs.IntVar(&o.Options.Count, "count", o.Options.Count,
		"Number of copies of the record to append")
}
