package main

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/keggin-CHN/Magic-Mirror/internal/swap"
)

func newSwapVideoCommand(ctx *commandContext) *cobra.Command {
	var sourceFlags []string
	var bindFlags []string
	var keyFrameMs float64
	var accelerated bool
	var quiet bool

	cmd := &cobra.Command{
		Use:   "swap-video <input-video> [face-image]",
		Short: "Swap faces across a whole video",
		Long: `Swap faces across a whole video.

With a face image the most prominent face of every frame is replaced.
With --source and --bind, faces anchored in the bound regions on the key
frame are tracked through the video and each receives its own identity.
The original audio track is re-attached when ffmpeg is available.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := ctx.ensure()
			if err != nil {
				return err
			}
			defer svc.Close()

			input := args[0]

			var bar *progressbar.ProgressBar
			cb := swap.Callbacks{
				OnStage: func(stage string) {
					if quiet {
						return
					}
					if bar != nil {
						bar.Describe(stage)
						return
					}
					fmt.Fprintln(cmd.ErrOrStderr(), stage)
				},
				OnProgress: func(framesSeen, totalFrames int, elapsedSeconds float64) {
					if quiet {
						return
					}
					if bar == nil {
						total := int64(totalFrames)
						if total == 0 {
							total = -1
						}
						bar = progressbar.NewOptions64(total,
							progressbar.OptionSetDescription("processing-video-frames"),
							progressbar.OptionSetWriter(cmd.ErrOrStderr()),
							progressbar.OptionShowCount(),
							progressbar.OptionShowIts(),
							progressbar.OptionSetItsString("fps"),
						)
					}
					bar.Set(framesSeen)
				},
			}

			var out string
			if len(bindFlags) > 0 {
				sources, err := parseSources(sourceFlags)
				if err != nil {
					return err
				}
				bindings, err := parseBindings(bindFlags)
				if err != nil {
					return err
				}
				out, err = svc.ProcessMultiFaceVideo(cmd.Context(), input, sources, bindings, keyFrameMs, accelerated, cb)
				if err != nil {
					return jobError(err)
				}
			} else {
				if len(args) < 2 {
					return fmt.Errorf("a face image is required unless --bind is used")
				}
				out, err = svc.ProcessSingleFaceVideo(cmd.Context(), input, args[1], accelerated, cb)
				if err != nil {
					return jobError(err)
				}
			}

			if bar != nil {
				bar.Finish()
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			cmd.Println(out)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&sourceFlags, "source", nil, "Face source as id=image-path (repeatable)")
	cmd.Flags().StringArrayVar(&bindFlags, "bind", nil, "Region binding as id=x,y,w,h (repeatable)")
	cmd.Flags().Float64Var(&keyFrameMs, "key-frame-ms", 0, "Key frame offset in milliseconds for track anchoring")
	cmd.Flags().BoolVar(&accelerated, "accelerated", false, "Prefer the accelerated inference backend")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	return cmd
}
