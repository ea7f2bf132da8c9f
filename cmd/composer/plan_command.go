package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nextconvert/shorts/internal/modules/compose"
	"github.com/spf13/cobra"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the timeline and ffmpeg command without rendering",
	}
	cmd.AddCommand(newPlanKindCommand(ctx, "images", compose.ClipImage))
	cmd.AddCommand(newPlanKindCommand(ctx, "videos", compose.ClipVideo))
	return cmd
}

func newPlanKindCommand(ctx *commandContext, use string, kind compose.ClipKind) *cobra.Command {
	var in inputFlags
	var workDir string
	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Plan a %s composition", use),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			composer, err := ctx.ensure()
			if err != nil {
				return err
			}
			settings, err := loadSettings(in.settingsPath, in.overrides)
			if err != nil {
				return err
			}
			files, err := in.files()
			if err != nil {
				return err
			}
			if workDir == "" {
				if workDir, err = os.Getwd(); err != nil {
					return err
				}
			}

			req := compose.Request{Files: files, Settings: settings, WorkDir: workDir}
			var plan *compose.Plan
			if kind == compose.ClipImage {
				plan, err = composer.PlanImages(cmd.Context(), req)
			} else {
				plan, err = composer.PlanVideos(cmd.Context(), req)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTimeline(plan.Timeline))
			fmt.Fprintln(out)
			fmt.Fprintln(out, commandLine(ctx.config.FFmpegPath, plan.Invocation.Args(ctx.processor.Encoder())))
			return nil
		},
	}
	in.bindVisual(cmd, kind)
	cmd.Flags().StringVar(&workDir, "workdir", "", "Directory the output would be written to (default: current directory)")
	return cmd
}

func renderTimeline(tl *compose.Timeline) string {
	headers := []string{"Clip", "Start", "Duration", "Lead", "Source", "Loops", "Speed"}
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}

	rows := make([][]string, 0, len(tl.Clips)+2)
	for _, slot := range tl.Clips {
		rows = append(rows, slotRow(strconv.Itoa(slot.Index+1), slot))
	}
	if tl.Outro != nil {
		rows = append(rows, slotRow("outro", *tl.Outro))
	}
	rows = append(rows, []string{"total", "", seconds(tl.Total), "", "", "", ""})

	summary := fmt.Sprintf("mode=%s transition=%s", tl.Mode, tl.Transition)
	if tl.Crossfade() {
		summary += fmt.Sprintf(" (%ss)", seconds(tl.TransitionDuration))
	}
	if tl.Fallback {
		summary += " fallback-duration"
	}
	return renderTable(headers, rows, aligns) + "\n" + summary
}

func slotRow(label string, slot compose.Slot) []string {
	row := []string{label, seconds(slot.Start), seconds(slot.Duration), seconds(slot.Lead), "", "", ""}
	if slot.SourceDuration > 0 {
		row[4] = seconds(slot.SourceDuration)
	}
	if slot.Loops > 1 {
		row[5] = strconv.Itoa(slot.Loops)
	}
	if slot.Speed > 0 && slot.Speed != 1 {
		row[6] = strconv.FormatFloat(slot.Speed, 'f', 3, 64)
	}
	return row
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// commandLine renders args for copy and paste into a POSIX shell.
func commandLine(ffmpegPath string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(ffmpegPath))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`;&|<>()[]*?!#~=,:") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
