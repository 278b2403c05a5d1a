package app

import (
	"fmt"

	"cbjournal/pkg/journal/codec"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
)

func printSuper(sb *codec.Superblock) {
	fmt.Printf("%v Superblock:\n", color.GreenString("==>"))
	table := uitable.New()
	table.Separator = " "
	table.MaxColWidth = 80
	table.RightAlign(0)
	table.AddRow("uuid:", sb.UUID.String())
	table.AddRow("block_size:", sb.BlockSize)
	table.AddRow("max_size:", sb.MaxSize)
	table.AddRow("used_size:", sb.UsedSize)
	table.AddRow("region:", fmt.Sprintf("[%d, %d)", sb.Start, sb.End))
	table.AddRow("start_offset:", sb.StartOffset)
	table.AddRow("written_to:", sb.WrittenTo)
	table.AddRow("committed_to:", sb.CommittedTo)
	table.AddRow("applied_to:", sb.AppliedTo)
	table.AddRow("cur_segment_id:", sb.CurSegmentID)
	table.AddRow("flag:", sb.Flag)
	table.AddRow("error:", sb.Error)
	fmt.Println(table)
}
