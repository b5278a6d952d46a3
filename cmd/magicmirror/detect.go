package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/keggin-CHN/Magic-Mirror/internal/geometry"
)

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true,
}

func newDetectCommand(ctx *commandContext) *cobra.Command {
	var regionFlags []string
	var keyFrameMs float64

	cmd := &cobra.Command{
		Use:   "detect <input>",
		Short: "List face boxes in an image or a video key frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := ctx.ensure()
			if err != nil {
				return err
			}
			defer svc.Close()

			regions, err := parseRegions(regionFlags)
			if err != nil {
				return err
			}

			input := args[0]
			var boxes []geometry.Box
			if videoExtensions[strings.ToLower(filepath.Ext(input))] {
				result, err := svc.DetectFaceBoxesInVideo(input, keyFrameMs, regions)
				if err != nil {
					return jobError(err)
				}
				boxes = result.Boxes
				fmt.Fprintf(cmd.ErrOrStderr(), "frame %d (%dx%d)\n",
					result.FrameIndex, result.FrameWidth, result.FrameHeight)
			} else {
				boxes, err = svc.DetectFaceBoxesInImage(input, regions)
				if err != nil {
					return jobError(err)
				}
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"#", "X", "Y", "W", "H"})
			for i, b := range boxes {
				t.AppendRow(table.Row{i + 1, b.X, b.Y, b.W, b.H})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&regionFlags, "region", nil, "Search region as x,y,w,h (repeatable)")
	cmd.Flags().Float64Var(&keyFrameMs, "key-frame-ms", 0, "Key frame offset in milliseconds for video inputs")
	return cmd
}
