package app

import (
	"context"
	"fmt"
	"os"

	"cbjournal/cmd/cbjournal/app/options"
	"cbjournal/pkg/journal"
	"cbjournal/pkg/journal/codec"
	"cbjournal/pkg/journal/device"
	"cbjournal/pkg/util/app"
)

const commandDesc = `cbjournal manages circular bounded journal regions on a block device:
format a region, inspect its superblock, walk its records, or append to it.`

func New(basename string) *app.App {
	opts := options.New()
	application := app.NewApp(
		basename,
		app.WithDescription(commandDesc),
		app.WithSilence(),
	)
	application.AddCommands(
		newMkfsCommand(opts),
		newInfoCommand(opts),
		newDumpCommand(opts),
		newAppendCommand(opts),
	)
	return application
}

func newMkfsCommand(opts *options.Options) *app.Command {
	return app.NewCommand("mkfs", "Format a journal region (no-op when already formatted)",
		app.WithCommandOptions(opts),
		app.WithCommandRunFunc(runMkfs(opts)),
	)
}

func runMkfs(opts *options.Options) app.RunCommandFunc {
	return func(args []string) error {
		if err := validate(opts); err != nil {
			return err
		}
		if opts.End <= opts.Start+uint64(opts.BlockSize) {
			return fmt.Errorf("--end must leave room for at least one record block past --start")
		}
		dev := device.NewFileDevice(opts.Device, opts.BlockSize, opts.End)
		j := journal.New(dev, opts.JournalOptions())
		return j.Mkfs(context.Background(), journal.MkfsConfig{
			Start: opts.Start,
			End:   opts.End,
		})
	}
}

func newInfoCommand(opts *options.Options) *app.Command {
	return app.NewCommand("info", "Decode and print the superblock of a journal region",
		app.WithCommandOptions(opts),
		app.WithCommandRunFunc(runInfo(opts)),
	)
}

func runInfo(opts *options.Options) app.RunCommandFunc {
	return func(args []string) error {
		if err := validate(opts); err != nil {
			return err
		}
		dev, err := openDevice(opts)
		if err != nil {
			return err
		}
		ctx := context.Background()
		if err := dev.Open(ctx); err != nil {
			return err
		}
		defer func() {
			_ = dev.Close()
		}()

		buf := make([]byte, dev.BlockSize())
		if err := dev.Read(ctx, opts.Start, buf); err != nil {
			return err
		}
		sb, ok := codec.DecodeSuper(buf)
		if !ok {
			return journal.ErrNotInitialized
		}
		printSuper(sb)
		return nil
	}
}

func newDumpCommand(opts *options.Options) *app.Command {
	return app.NewCommand("dump", "Walk records from a logical offset until the first torn frame",
		app.WithCommandOptions(options.DumpOptions{Options: opts}),
		app.WithCommandRunFunc(runDump(opts)),
	)
}

func runDump(opts *options.Options) app.RunCommandFunc {
	return func(args []string) error {
		if err := validate(opts); err != nil {
			return err
		}
		dev, err := openDevice(opts)
		if err != nil {
			return err
		}
		ctx := context.Background()
		j := journal.New(dev, opts.JournalOptions())
		if _, err := j.OpenForWrite(ctx, opts.Start); err != nil {
			return err
		}
		defer func() {
			_ = j.Close(ctx)
		}()

		geo := j.Geometry()
		offset := opts.Offset
		count := 0
		var walked uint64
		for walked < geo.MaxSize {
			header, _, err := j.ReadRecord(ctx, offset)
			if err != nil {
				return err
			}
			if header == nil {
				fmt.Printf("no record at offset %d, stopping\n", offset)
				break
			}
			total := uint64(header.MDLength) + uint64(header.DLength)
			fmt.Printf("offset=%-12d seq=%-8d mdlength=%-10d dlength=%-10d committed_to=%d\n",
				offset, header.Seq, header.MDLength, header.DLength, header.CommittedTo)
			count++
			if opts.Limit > 0 && count >= opts.Limit {
				break
			}
			walked += total
			offset = geo.Advance(geo.StartOffset+offset, total) - geo.StartOffset
		}
		fmt.Printf("%d record(s)\n", count)
		return nil
	}
}

func newAppendCommand(opts *options.Options) *app.Command {
	return app.NewCommand("append", "Append one or more records to an open journal region",
		app.WithCommandOptions(options.AppendOptions{Options: opts}),
		app.WithCommandRunFunc(runAppend(opts)),
	)
}

func runAppend(opts *options.Options) app.RunCommandFunc {
	return func(args []string) error {
		if err := validate(opts); err != nil {
			return err
		}
		dev, err := openDevice(opts)
		if err != nil {
			return err
		}
		ctx := context.Background()
		j := journal.New(dev, opts.JournalOptions())
		if _, err := j.OpenForWrite(ctx, opts.Start); err != nil {
			return err
		}
		rec := &codec.Record{
			Metadata: []byte(opts.Metadata),
			Data:     []byte(opts.Data),
		}
		for i := 0; i < opts.Count; i++ {
			paddr, pos, err := j.SubmitRecord(ctx, rec)
			if err != nil {
				_ = j.Close(ctx)
				return err
			}
			fmt.Printf("appended seq=%d at block=%d offset=%d\n",
				pos.SegmentID, paddr.BlockID, paddr.BlockOff)
		}
		return j.Close(ctx)
	}
}

func validate(opts *options.Options) error {
	if errs := opts.Validate(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// openDevice sizes the file device from --end when given, otherwise
// from the backing file.
func openDevice(opts *options.Options) (device.Device, error) {
	capacity := opts.End
	if capacity == 0 {
		fi, err := os.Stat(opts.Device)
		if err != nil {
			return nil, err
		}
		capacity = uint64(fi.Size())
	}
	if capacity == 0 || capacity%uint64(opts.BlockSize) != 0 {
		return nil, fmt.Errorf("device size %d is not a multiple of the block size", capacity)
	}
	return device.NewFileDevice(opts.Device, opts.BlockSize, capacity), nil
}
