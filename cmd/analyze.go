package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/irisguide/internal/config"
	"github.com/andresmejia3/irisguide/internal/guidance"
	"github.com/andresmejia3/irisguide/internal/landmark"
	"github.com/andresmejia3/irisguide/internal/pipeline"
	"github.com/andresmejia3/irisguide/internal/timeutil"
	"github.com/andresmejia3/irisguide/internal/types"
	"github.com/andresmejia3/irisguide/internal/utils"
	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"
)

var (
	analyzeInterval  time.Duration
	analyzeMaxWidth  int
	analyzeLandmarks string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image_path>...",
	Short: "Run the guidance engine over still images, as consecutive camera frames",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runAnalyze(cmd.Context(), args, Tuning.Offline())
	},
}

func init() {
	analyzeCmd.Flags().DurationVar(&analyzeInterval, "interval", 100*time.Millisecond, "Simulated time between consecutive images")
	analyzeCmd.Flags().IntVar(&analyzeMaxWidth, "max-width", 1280, "Downscale wider images before analysis (0 keeps full size)")
	analyzeCmd.Flags().StringVar(&analyzeLandmarks, "landmarks", "", "Fixed landmarks instead of the configured backend: lx,ly,rx,ry,face_width (eyes in pixels of the analyzed image, face width as a fraction)")
	rootCmd.AddCommand(analyzeCmd)
}

// analyzeReport is one line of JSON output per image.
type analyzeReport struct {
	File  string              `json:"file"`
	State types.GuidanceState `json:"state"`
	Hints guidance.HintSet    `json:"hints"`
}

func runAnalyze(ctx context.Context, paths []string, tuning config.Tuning) error {
	var loc landmark.Locator
	if analyzeLandmarks != "" {
		lm, err := parseLandmarks(analyzeLandmarks)
		if err != nil {
			utils.ShowError("Invalid --landmarks value", err, nil)
			return err
		}
		loc = landmark.Static(lm)
	} else {
		backend, closer, err := landmark.Open(tuning.Landmarks, 0)
		if err != nil {
			utils.ShowError("Failed to start landmark backend", err, nil)
			return err
		}
		defer closer.Close()
		loc = backend
	}

	// Every image is a camera frame; none are skipped.
	tuning.AnalyzeEvery = 1
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	p := pipeline.New(pipeline.Options{Tuning: tuning, Locator: loc, Clock: clock})
	defer p.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	for _, path := range paths {
		img, err := imaging.Open(path, imaging.AutoOrientation(true))
		if err != nil {
			utils.ShowError("Failed to read image file", err, nil)
			return err
		}
		if analyzeMaxWidth > 0 && img.Bounds().Dx() > analyzeMaxWidth {
			img = imaging.Resize(img, analyzeMaxWidth, 0, imaging.Lanczos)
		}

		frame := frameFromImage(img)
		if err := p.Process(ctx, frame); err != nil {
			utils.ShowError(fmt.Sprintf("Frame rejected: %s", path), err, nil)
			return err
		}

		state := latestState(p.States(), p.State())
		if err := enc.Encode(analyzeReport{File: path, State: state, Hints: guidance.Hints(state)}); err != nil {
			return err
		}
		clock.Advance(analyzeInterval)
	}

	if st := p.Stats(); st.Failed > 0 {
		fmt.Fprintf(os.Stderr, "⚠️  %d of %d images could not be analyzed\n", st.Failed, st.Analyzed)
	}
	return nil
}

// frameFromImage converts any decoded image to a packed BGRA frame.
func frameFromImage(img image.Image) *types.Frame {
	src := imaging.Clone(img) // NRGBA, origin at (0,0)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	pix := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s := y*src.Stride + x*4
			d := (y*w + x) * 4
			pix[d] = src.Pix[s+2]
			pix[d+1] = src.Pix[s+1]
			pix[d+2] = src.Pix[s]
			pix[d+3] = src.Pix[s+3]
		}
	}
	return types.NewBGRAFrame(w, h, w*4, pix)
}

// parseLandmarks reads "lx,ly,rx,ry,face_width".
func parseLandmarks(v string) (*types.Landmarks, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 5 {
		return nil, fmt.Errorf("expected 5 comma-separated numbers, got %d", len(parts))
	}
	nums := make([]float64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i+1, err)
		}
		nums[i] = n
	}
	return &types.Landmarks{
		Left:      []types.Point{{X: nums[0], Y: nums[1]}},
		Right:     []types.Point{{X: nums[2], Y: nums[3]}},
		FaceWidth: nums[4],
	}, nil
}
