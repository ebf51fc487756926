package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/andresmejia3/irisguide/internal/config"
	"github.com/andresmejia3/irisguide/internal/landmark"
	"github.com/andresmejia3/irisguide/internal/pipeline"
	"github.com/andresmejia3/irisguide/internal/types"
	"github.com/andresmejia3/irisguide/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	renderOpts   Options
	renderOutput string
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Replay a video through the live guidance loop and burn the overlay into a copy",
	Long: `Feeds every decoded frame to the guidance pipeline in order, exactly as a camera would,
and re-encodes the video with the status bar and iris ring of the newest guidance state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRender(cmd.Context(), renderOpts, renderOutput, Tuning.Offline())
	},
}

func init() {
	renderCmd.Flags().StringVarP(&renderOpts.InputPath, "input", "i", "", "Path to input video")
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "guided.mp4", "Path to output video")
	renderCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(renderCmd)
}

func runRender(ctx context.Context, opts Options, output string, tuning config.Tuning) error {
	// Kill ffmpeg and any landmark process if we bail out early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts.NthFrame, opts.NumEngines, opts.PixFmt = 1, 1, "bgra"
	if err := validateScanFlags(&opts); err != nil {
		return err
	}
	if err := checkDistinctPaths(opts.InputPath, output); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	fps, err := utils.GetVideoFPS(ctx, opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to determine video FPS", err, nil)
		return err
	}
	width, height, err := utils.GetVideoDimensions(ctx, opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to determine video dimensions", err, nil)
		return err
	}
	totalFrames := utils.GetTotalFrames(ctx, opts.InputPath)

	loc, closer, err := landmark.Open(tuning.Landmarks, 0)
	if err != nil {
		utils.ShowError("Failed to start landmark backend", err, nil)
		return err
	}
	defer closer.Close()

	p := pipeline.New(pipeline.Options{Tuning: tuning, Locator: loc})
	defer p.Close()

	decoder := utils.NewFFmpegRawDecoder(ctx, opts.InputPath, "bgra")
	decoderOut, err := decoder.StdoutPipe()
	if err != nil {
		utils.ShowError("Failed to create decoder pipe", err, nil)
		return err
	}
	if err := decoder.Start(); err != nil {
		utils.ShowError("Failed to start decoder", err, nil)
		return err
	}

	encoder := utils.NewFFmpegEncoder(ctx, output, fps, width, height)
	encoderIn, err := encoder.StdinPipe()
	if err != nil {
		utils.ShowError("Failed to create encoder pipe", err, nil)
		return err
	}
	if err := encoder.Start(); err != nil {
		utils.ShowError("Failed to start encoder", err, nil)
		return err
	}

	var barTotal int64 = int64(totalFrames)
	if barTotal <= 0 {
		barTotal = -1 // Trigger spinner mode
	}
	bar := progressbar.NewOptions64(barTotal,
		progressbar.OptionSetDescription("Rendering"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	frameSize := width * height * 4
	buf := make([]byte, frameSize)
	state := p.State()
	readyFrames := 0
	for idx := 1; ; idx++ {
		if _, err := io.ReadFull(decoderOut, buf); err != nil {
			break
		}
		frame := types.NewBGRAFrame(width, height, width*4, buf)
		frame.Timestamp = mediaTime(idx, fps)

		if err := p.Process(ctx, frame); err != nil {
			utils.ShowError("Frame rejected", err, nil)
			return err
		}
		state = latestState(p.States(), state)
		if state.ReadyToCapture {
			readyFrames++
		}

		annotate(newBGRAImage(buf, width, height), state)
		if _, err := encoderIn.Write(buf); err != nil {
			utils.ShowError("Encoder pipe closed", err, nil)
			return err
		}
		bar.Add(1)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	encoderIn.Close()
	if err := encoder.Wait(); err != nil {
		utils.ShowError("Encoder process failed", err, nil)
		return err
	}
	if err := decoder.Wait(); err != nil {
		utils.ShowError("Decoder process failed", err, nil)
		return err
	}

	st := p.Stats()
	fmt.Fprintf(os.Stderr, "\n🎬 Wrote %s: %d frames, %d analyzed, %d ready\n", output, st.Frames, st.Analyzed, readyFrames)
	return nil
}

// latestState drains the mailbox without blocking, keeping prev when nothing new arrived.
func latestState(states <-chan types.GuidanceState, prev types.GuidanceState) types.GuidanceState {
	select {
	case s, ok := <-states:
		if ok {
			return s
		}
	default:
	}
	return prev
}

// checkDistinctPaths refuses to overwrite the input, which would corrupt it mid-decode.
func checkDistinctPaths(input, output string) error {
	inAbs, err := filepath.Abs(input)
	if err != nil {
		return err
	}
	outAbs, err := filepath.Abs(output)
	if err != nil {
		return err
	}
	if inAbs == outAbs {
		return fmt.Errorf("input and output paths must be different to prevent file corruption")
	}
	return nil
}
