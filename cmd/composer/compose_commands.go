package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nextconvert/shorts/internal/modules/compose"
	"github.com/spf13/cobra"
)

type inputFlags struct {
	images       []string
	videos       []string
	audio        []string
	outro        string
	captions     string
	settingsPath string
	overrides    []string
}

func (f *inputFlags) bindSettings(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.settingsPath, "settings", "s", "", "Settings file (.json or .toml)")
	cmd.Flags().StringArrayVar(&f.overrides, "set", nil, "Override a setting (key=value, repeatable)")
}

func (f *inputFlags) bindVisual(cmd *cobra.Command, kind compose.ClipKind) {
	if kind == compose.ClipImage {
		cmd.Flags().StringArrayVarP(&f.images, "image", "i", nil, "Image clip, in order (repeatable)")
	} else {
		cmd.Flags().StringArrayVarP(&f.videos, "video", "v", nil, "Video clip, in order (repeatable)")
	}
	cmd.Flags().StringArrayVarP(&f.audio, "audio", "a", nil, "Audio track")
	cmd.Flags().StringVar(&f.outro, "outro", "", "Outro image or video")
	f.bindSettings(cmd)
}

// files groups the flag values by composition field, dropping empty fields.
func (f *inputFlags) files() (map[string][]string, error) {
	files := map[string][]string{
		compose.FieldImages: f.images,
		compose.FieldVideo:  f.videos,
		compose.FieldAudio:  f.audio,
	}
	if f.outro != "" {
		files[compose.FieldOutro] = []string{f.outro}
	}
	if f.captions != "" {
		files[compose.FieldCaptions] = []string{f.captions}
	}

	for field, paths := range files {
		if len(paths) == 0 {
			delete(files, field)
			continue
		}
		for i, p := range paths {
			abs, err := existingFile(p)
			if err != nil {
				return nil, err
			}
			paths[i] = abs
		}
	}
	return files, nil
}

func existingFile(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("file does not exist: %s", abs)
		}
		return "", fmt.Errorf("inspect file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", abs)
	}
	return abs, nil
}

func newImagesCommand(ctx *commandContext) *cobra.Command {
	var in inputFlags
	var output string
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Render a slideshow from images over an audio track",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return render(cmd, ctx, compose.OpImagesToVideo, &in, output)
		},
	}
	in.bindVisual(cmd, compose.ClipImage)
	cmd.Flags().StringVarP(&output, "output", "o", "output.mp4", "Output file")
	return cmd
}

func newVideosCommand(ctx *commandContext) *cobra.Command {
	var in inputFlags
	var output string
	cmd := &cobra.Command{
		Use:   "videos",
		Short: "Join video clips over an audio track",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return render(cmd, ctx, compose.OpVideosToVideo, &in, output)
		},
	}
	in.bindVisual(cmd, compose.ClipVideo)
	cmd.Flags().StringVarP(&output, "output", "o", "output.mp4", "Output file")
	return cmd
}

func newMergeAudioCommand(ctx *commandContext) *cobra.Command {
	var in inputFlags
	var output string
	cmd := &cobra.Command{
		Use:   "merge-audio <file>...",
		Short: "Concatenate audio files into one MP3",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.audio = args
			return render(cmd, ctx, compose.OpMergeAudio, &in, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "merged.mp3", "Output file")
	return cmd
}

func newCaptionsCommand(ctx *commandContext) *cobra.Command {
	var in inputFlags
	var video, output string
	cmd := &cobra.Command{
		Use:   "captions",
		Short: "Style an ASS subtitle script and burn it into a video",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.videos = []string{video}
			return render(cmd, ctx, compose.OpBurnCaptions, &in, output)
		},
	}
	cmd.Flags().StringVarP(&video, "video", "v", "", "Video to caption")
	cmd.Flags().StringVar(&in.captions, "captions", "", "ASS subtitle script")
	cmd.MarkFlagRequired("video")
	cmd.MarkFlagRequired("captions")
	in.bindSettings(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "captioned.mp4", "Output file")
	return cmd
}

func render(cmd *cobra.Command, ctx *commandContext, operation string, in *inputFlags, output string) error {
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

	workDir, err := os.MkdirTemp("", "composer-*")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	stderr := cmd.ErrOrStderr()
	result, err := composer.Run(cmd.Context(), operation, compose.Request{
		Files:    files,
		Settings: settings,
		WorkDir:  workDir,
		OnProgress: func(percent int) {
			fmt.Fprintf(stderr, "\rRendering %3d%%", percent)
		},
	})
	fmt.Fprintln(stderr)
	if err != nil {
		return err
	}

	if err := os.WriteFile(output, result.Data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s, %.2fs)\n", output, result.MIMEType, result.Duration)
	return nil
}
