package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keggin-CHN/Magic-Mirror/internal/swap"
)

func newSwapImageCommand(ctx *commandContext) *cobra.Command {
	var regionFlags []string
	var bindFlags []string
	var sourceFlags []string

	cmd := &cobra.Command{
		Use:   "swap-image <input-image> [face-image]",
		Short: "Swap faces in a single image",
		Long: `Swap faces in a single image.

With a face image and no regions the most prominent face is replaced.
Pass --region to restrict the swap to rectangles, or --source/--bind to
give each rectangle its own identity.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := ctx.ensure()
			if err != nil {
				return err
			}
			defer svc.Close()

			input := args[0]

			if len(bindFlags) > 0 {
				sources, err := parseSources(sourceFlags)
				if err != nil {
					return err
				}
				bindings, err := parseBindings(bindFlags)
				if err != nil {
					return err
				}
				out, err := svc.SwapImageBySources(input, sources, bindings)
				if err != nil {
					return jobError(err)
				}
				cmd.Println(out)
				return nil
			}

			if len(args) < 2 {
				return fmt.Errorf("a face image is required unless --bind is used")
			}
			face := args[1]

			var out string
			if len(regionFlags) > 0 {
				regions, err := parseRegions(regionFlags)
				if err != nil {
					return err
				}
				out, err = svc.SwapImageRegions(input, face, regions)
				if err != nil {
					return jobError(err)
				}
			} else {
				out, err = svc.SwapImage(input, face)
				if err != nil {
					return jobError(err)
				}
			}
			cmd.Println(out)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&regionFlags, "region", nil, "Region as x,y,w,h (repeatable)")
	cmd.Flags().StringArrayVar(&sourceFlags, "source", nil, "Face source as id=image-path (repeatable)")
	cmd.Flags().StringArrayVar(&bindFlags, "bind", nil, "Region binding as id=x,y,w,h (repeatable)")
	return cmd
}

// jobError prefixes the taxonomy code so scripted callers can branch on
// it without parsing the message.
func jobError(err error) error {
	return fmt.Errorf("%s: %w", swap.Code(err), err)
}

func parseRegion(value string) (swap.Region, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return swap.Region{}, fmt.Errorf("region %q: want x,y,w,h", value)
	}
	nums := make([]int, 4)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return swap.Region{}, fmt.Errorf("region %q: %w", value, err)
		}
		nums[i] = n
	}
	return swap.Region{X: nums[0], Y: nums[1], W: nums[2], H: nums[3]}, nil
}

func parseRegions(values []string) ([]swap.Region, error) {
	regions := make([]swap.Region, 0, len(values))
	for _, v := range values {
		r, err := parseRegion(v)
		if err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	return regions, nil
}

func parseSources(values []string) (map[string]string, error) {
	sources := make(map[string]string, len(values))
	for _, v := range values {
		id, path, ok := strings.Cut(v, "=")
		if !ok || id == "" || path == "" {
			return nil, fmt.Errorf("source %q: want id=image-path", v)
		}
		sources[id] = path
	}
	return sources, nil
}

func parseBindings(values []string) ([]swap.Binding, error) {
	bindings := make([]swap.Binding, 0, len(values))
	for _, v := range values {
		id, rect, ok := strings.Cut(v, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("bind %q: want id=x,y,w,h", v)
		}
		region, err := parseRegion(rect)
		if err != nil {
			return nil, fmt.Errorf("bind %q: %w", v, err)
		}
		bindings = append(bindings, swap.Binding{Region: region, SourceID: id})
	}
	return bindings, nil
}
