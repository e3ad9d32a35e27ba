package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/1F47E/ufed-kml-map/pkg/app"
	"github.com/1F47E/ufed-kml-map/pkg/models"
	"github.com/1F47E/ufed-kml-map/pkg/tui"
)

var convertCmd = &cobra.Command{
	Use:   "convert <export.kml|export.kmz>",
	Short: "Convert a KML export into CSV, report and maps",
	Args:  cobra.ExactArgs(1),
	RunE:  runConvert,
}

func runConvert(cmd *cobra.Command, args []string) error {
	input := args[0]
	if err := app.ValidateInput(input); err != nil {
		return err
	}

	showTUI := interactive()
	var console io.Writer = os.Stderr
	if showTUI {
		console = io.Discard
	}
	e, err := setup(cmd, console)
	if err != nil {
		return err
	}
	defer e.close()

	if showTUI {
		_, err := tui.Run(cmd.Context(), "Converting "+filepath.Base(input), func(ctx context.Context, send func(tea.Msg)) (tui.Summary, error) {
			res, err := e.converter.Convert(ctx, input, app.Hooks{
				Observer:  tui.NewObserver(send),
				Exporting: func() { send(tui.ExportingMsg{}) },
			})
			if err != nil {
				return tui.Summary{}, err
			}
			for _, w := range res.Warnings {
				send(tui.LogMsg(w))
			}
			return summarize(res), nil
		})
		return err
	}

	res, err := e.converter.Convert(cmd.Context(), input, app.Hooks{})
	if err != nil {
		return err
	}
	printSummary(os.Stdout, res)
	return nil
}

func summarize(res *app.Result) tui.Summary {
	ds := res.Dataset
	return tui.Summary{
		Fragments: ds.Fragments,
		Records:   len(ds.Records),
		Rejected:  ds.Rejections.Total,
		Untimed:   ds.UntimedRecords,
		ByReason:  ds.Rejections.ByReason,
		Outputs:   res.Outputs,
		Duration:  res.Duration,
	}
}

func printSummary(w io.Writer, res *app.Result) {
	ds := res.Dataset
	fmt.Fprintf(w, "Converted %s in %v\n", res.Input, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  placemarks: %s\n", humanize.Comma(int64(ds.Fragments)))
	fmt.Fprintf(w, "  records:    %s (%s without timestamp)\n",
		humanize.Comma(int64(len(ds.Records))), humanize.Comma(int64(ds.UntimedRecords)))
	fmt.Fprintf(w, "  rejected:   %s\n", humanize.Comma(int64(ds.Rejections.Total)))

	reasons := make([]models.Reason, 0, len(ds.Rejections.ByReason))
	for r := range ds.Rejections.ByReason {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
	for _, r := range reasons {
		fmt.Fprintf(w, "    %-26s %s\n", r, humanize.Comma(int64(ds.Rejections.ByReason[r])))
	}

	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
	for _, out := range res.Outputs {
		fmt.Fprintf(w, "  wrote %s\n", out)
	}
}
