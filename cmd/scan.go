package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/irisguide/internal/config"
	"github.com/andresmejia3/irisguide/internal/guidance"
	"github.com/andresmejia3/irisguide/internal/landmark"
	"github.com/andresmejia3/irisguide/internal/logging"
	"github.com/andresmejia3/irisguide/internal/pipeline"
	"github.com/andresmejia3/irisguide/internal/store"
	"github.com/andresmejia3/irisguide/internal/types"
	"github.com/andresmejia3/irisguide/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var scanOpts Options

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Replay a recorded eye video through the guidance engine and find ready-to-capture windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		opts := scanOpts
		if !cmd.Flags().Changed("nth-frame") {
			opts.NthFrame = Tuning.AnalyzeEvery
		}
		return runScan(cmd.Context(), opts, Tuning.Offline())
	},
}

func init() {
	scanCmd.Flags().StringVarP(&scanOpts.InputPath, "input", "i", "", "Path to video")
	scanCmd.Flags().IntVarP(&scanOpts.NthFrame, "nth-frame", "n", 3, "Analyze every Nth frame (default from config: analyze_every)")
	scanCmd.Flags().IntVarP(&scanOpts.NumEngines, "engines", "e", 1, "Number of parallel engine workers")
	scanCmd.Flags().StringVar(&scanOpts.PixFmt, "pix-fmt", "gray", "Decoder pixel format: gray, bgra")
	scanCmd.Flags().BoolVarP(&scanOpts.DebugFrames, "debug-frames", "d", false, "Save annotated images of ready frames to /data/debug_frames/")
	scanCmd.Flags().BoolVar(&scanOpts.NoStore, "no-store", false, "Do not persist the session to the database")

	scanCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(scanCmd)
}

// Buffer pool to reduce GC pressure during scanning
var frameBufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, 0, 1024*1024) },
}

// scanResult wraps the output from an engine to be sent to the aggregator
type scanResult struct {
	Index  int
	Result types.FrameResult
	Err    error
	Frame  *types.Frame // kept only when debug frames are requested
}

// runScan orchestrates the scan: probe, engine pool, raw decoder, ordered fusion and persistence.
func runScan(ctx context.Context, opts Options, tuning config.Tuning) error {
	// Create a cancellable context to ensure all child processes (FFmpeg, landmark workers)
	// are killed immediately if this function returns early (e.g. on error).
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := validateScanFlags(&opts); err != nil {
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

	session := guidance.NewSession(tuning)
	sourceID, err := utils.GenerateSourceID(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to generate source ID", err, nil)
		return err
	}
	if !opts.NoStore {
		if err := connectDB(ctx); err != nil {
			utils.ShowError("Database unavailable (use --no-store to skip persistence)", err, nil)
			return err
		}
		if err := DB.EnsureSession(ctx, session.ID, sourceID, opts.InputPath); err != nil {
			utils.ShowError("Failed to register session", err, nil)
			return err
		}
	}
	fmt.Fprintf(os.Stderr, "📼 Session %s (%dx%d @ %.2f fps, every %d frames)\n", session.ID, width, height, fps, opts.NthFrame)
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Engines (landmarks: %s)...\n", opts.NumEngines, tuning.Landmarks.Backend)

	taskChan := make(chan types.FrameTask, opts.NumEngines)
	resultsChan := make(chan scanResult, opts.NumEngines*2)
	errChan := make(chan error, opts.NumEngines+2)
	readyChan := make(chan bool, opts.NumEngines)
	var wg sync.WaitGroup

	for i := 0; i < opts.NumEngines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runEngine(ctx, id, tuning, opts.DebugFrames, taskChan, resultsChan, errChan, readyChan)
		}(i)
	}

	// Wait for engines to be ready
	fmt.Fprintln(os.Stderr, "🚀 Warming up engines...")
	for i := 0; i < opts.NumEngines; i++ {
		select {
		case <-readyChan:
		case err := <-errChan:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	decoder := utils.NewFFmpegRawDecoder(ctx, opts.InputPath, opts.PixFmt)
	var stderrBuf bytes.Buffer
	decoder.Stderr = &stderrBuf
	decoderOut, err := decoder.StdoutPipe()
	if err != nil {
		utils.ShowError("Failed to create decoder pipe", err, nil)
		return err
	}
	if err := decoder.Start(); err != nil {
		utils.ShowError("Failed to start decoder", err, nil)
		return err
	}

	var barTotal int64 = int64(totalFrames)
	if barTotal <= 0 {
		barTotal = -1 // Trigger spinner mode
	}
	bar := progressbar.NewOptions64(barTotal,
		progressbar.OptionSetDescription("🔍 Scanning"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	feedDone := make(chan int, 1)
	go func() {
		defer close(taskChan)
		feedDone <- feedFrames(ctx, decoderOut, width, height, opts, fps, taskChan, bar)
	}()

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	agg := newAggregator(session, fps, opts.NthFrame)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errChan:
			return err
		case res, ok := <-resultsChan:
			if !ok {
				goto Flush
			}
			agg.add(res)
		}
	}

Flush:
	if err := decoder.Wait(); err != nil {
		if stderrBuf.Len() > 0 {
			fmt.Fprintf(os.Stderr, "\nFFmpeg Logs:\n%s\n", stderrBuf.String())
		}
		utils.ShowError("Decoder process failed", err, nil)
		return err
	}
	bar.Finish()

	decoded := <-feedDone
	windows := agg.finish()
	if !opts.NoStore {
		for _, w := range windows {
			if err := DB.InsertWindow(ctx, session.ID, w); err != nil {
				utils.ShowError("Failed to persist ready window", err, nil)
				return err
			}
		}
		if err := DB.UpdateSessionCounts(ctx, session.ID, decoded, agg.analyzed); err != nil {
			utils.ShowError("Failed to update session counts", err, nil)
			return err
		}
	}

	printScanSummary(session, windows, decoded, agg)
	return nil
}

// runEngine owns one analyzer and one landmark backend for the life of the scan.
func runEngine(ctx context.Context, id int, tuning config.Tuning, keepFrames bool,
	tasks <-chan types.FrameTask, results chan<- scanResult, errChan chan<- error, readyChan chan<- bool) {

	loc, closer, err := landmark.Open(tuning.Landmarks, id)
	if err != nil {
		utils.ShowError("Engine startup failed", err, nil)
		select {
		case errChan <- err:
		default:
		}
		return
	}
	defer closer.Close()
	readyChan <- true

	analyzer := pipeline.NewAnalyzer(tuning, loc, nil, nil)
	for task := range tasks {
		res, err := analyzer.Analyze(ctx, task.Frame, uint64(task.Index))
		out := scanResult{Index: task.Index, Result: res, Err: err}
		if keepFrames {
			out.Frame = task.Frame
		} else {
			// Return buffer to pool immediately after analysis
			frameBufferPool.Put(task.Frame.Planes[0].Data)
		}
		select {
		case results <- out:
		case <-ctx.Done():
			return
		}
	}
}

// feedFrames reads raw frames from the decoder and sends every Nth one to the engines.
// It returns the number of decoded frames.
func feedFrames(ctx context.Context, r io.Reader, width, height int, opts Options, fps float64,
	tasks chan<- types.FrameTask, bar *progressbar.ProgressBar) int {

	frameSize := width * height * bytesPerPixel(opts.PixFmt)
	idx := 0
	for {
		buf := frameBufferPool.Get().([]byte)
		if cap(buf) < frameSize {
			buf = make([]byte, frameSize)
		}
		buf = buf[:frameSize]

		if _, err := io.ReadFull(r, buf); err != nil {
			// EOF or a truncated last frame: stop reading
			frameBufferPool.Put(buf)
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				logging.Logger().Warn("decoder read failed", "err", err)
			}
			return idx
		}
		idx++
		bar.Add(1)

		if idx%opts.NthFrame != 0 {
			frameBufferPool.Put(buf)
			continue
		}
		frame := frameFromBuffer(buf, width, height, opts.PixFmt)
		frame.Seq = uint64(idx)
		frame.Timestamp = mediaTime(idx, fps)

		select {
		case tasks <- types.FrameTask{Index: idx, Frame: frame}:
		case <-ctx.Done():
			return idx
		}
	}
}

// mediaTime maps a 1-based frame index to a timestamp so the debounce runs on video time.
func mediaTime(idx int, fps float64) time.Time {
	return time.Unix(0, 0).Add(time.Duration(float64(idx-1) / fps * float64(time.Second)))
}

func frameSeconds(idx int, fps float64) float64 {
	return float64(idx-1) / fps
}

func bytesPerPixel(pixFmt string) int {
	if pixFmt == "bgra" {
		return 4
	}
	return 1
}

func frameFromBuffer(buf []byte, width, height int, pixFmt string) *types.Frame {
	if pixFmt == "bgra" {
		return types.NewBGRAFrame(width, height, width*4, buf)
	}
	return types.NewLumaFrame(width, height, buf)
}

// --- Ordered fusion & ready windows ---

// aggregator restores frame order before fusion; the session rejects anything older anyway.
type aggregator struct {
	session   *guidance.Session
	fps       float64
	nth       int
	nextFrame int
	buffer    map[int]scanResult
	tracker   readyTracker

	analyzed int
	failed   int
	last     types.GuidanceState
}

func newAggregator(session *guidance.Session, fps float64, nth int) *aggregator {
	return &aggregator{
		session:   session,
		fps:       fps,
		nth:       nth,
		nextFrame: nth,
		buffer:    make(map[int]scanResult),
		last:      session.State(),
	}
}

func (a *aggregator) add(res scanResult) {
	a.buffer[res.Index] = res

	// Process frames in strict order
	for {
		frame, ok := a.buffer[a.nextFrame]
		if !ok {
			break
		}
		delete(a.buffer, a.nextFrame)
		a.apply(frame)
		a.nextFrame += a.nth
	}
}

func (a *aggregator) apply(res scanResult) {
	a.analyzed++
	if res.Frame != nil {
		defer frameBufferPool.Put(res.Frame.Planes[0].Data)
	}
	if res.Err != nil {
		// Guidance holds its last value for this frame.
		a.failed++
		logging.Logger().Debug("frame analysis failed", "frame", res.Index, "err", res.Err)
		return
	}

	state, err := a.session.Apply(res.Result)
	if err != nil {
		a.failed++
		logging.Logger().Debug("frame result rejected", "frame", res.Index, "err", err)
		return
	}
	a.last = state

	opened := a.tracker.observe(frameSeconds(res.Index, a.fps), state)
	if opened && res.Frame != nil {
		path, err := writeDebugFrame(debugFramesDir, a.session.ID.String(), res.Index, res.Frame, state)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\n⚠️  Failed to save debug frame %d: %v\n", res.Index, err)
		} else {
			logging.Logger().Info("saved debug frame", "path", path)
		}
	}
}

// finish drains anything left behind a gap in the sequence and closes the last window.
func (a *aggregator) finish() []store.Window {
	for len(a.buffer) > 0 {
		next := -1
		for idx := range a.buffer {
			if next == -1 || idx < next {
				next = idx
			}
		}
		res := a.buffer[next]
		delete(a.buffer, next)
		a.apply(res)
	}
	return a.tracker.flush()
}

// readyTracker turns the per-frame ReadyToCapture signal into continuous windows.
type readyTracker struct {
	open    bool
	cur     store.Window
	windows []store.Window
}

// observe records one fused frame at t seconds and reports whether a window just opened.
func (r *readyTracker) observe(t float64, s types.GuidanceState) bool {
	if !s.ReadyToCapture {
		r.close()
		return false
	}
	if r.open {
		r.cur.End = t
		r.cur.Frames++
		if s.FocusQuality > r.cur.PeakSharpness {
			r.cur.PeakSharpness = s.FocusQuality
		}
		return false
	}
	r.open = true
	r.cur = store.Window{Start: t, End: t, Frames: 1, PeakSharpness: s.FocusQuality}
	return true
}

func (r *readyTracker) close() {
	if r.open {
		r.windows = append(r.windows, r.cur)
		r.open = false
	}
}

func (r *readyTracker) flush() []store.Window {
	r.close()
	return r.windows
}

func printScanSummary(session *guidance.Session, windows []store.Window, decoded int, agg *aggregator) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 SCAN SUMMARY (session %s)\n", session.ID)
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")

	if len(windows) == 0 {
		fmt.Fprintf(os.Stderr, "\n❌ Never ready to capture. Last guidance: %s\n", describeState(agg.last))
	}
	for i, w := range windows {
		fmt.Fprintf(os.Stderr, "\n✅ Window %d: %s -> %s (%d frames, peak sharpness %.0f)\n",
			i+1, utils.FmtTime(w.Start), utils.FmtTime(w.End), w.Frames, w.PeakSharpness)
	}

	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🎞️  Frames Decoded:   %d\n", decoded)
	fmt.Fprintf(os.Stderr, "👁️  Frames Analyzed:  %d (%d discarded)\n", agg.analyzed, agg.failed)
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

func describeState(s types.GuidanceState) string {
	h := guidance.Hints(s)
	msg := h.Distance
	if h.Position != "" {
		msg += ", " + h.Position
	}
	return fmt.Sprintf("%s; focus: %s; %s", msg, h.Focus, h.Lighting)
}

// validateScanFlags ensures all CLI arguments are valid before starting heavy processes.
func validateScanFlags(opts *Options) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			utils.ShowError("Input file does not exist", err, nil)
			return err
		}
		utils.ShowError("Unable to access input file", err, nil)
		return err
	}
	if info.IsDir() {
		err := fmt.Errorf("is a directory")
		utils.ShowError("Input path is a directory, expected a video file", err, nil)
		return err
	}
	if opts.NthFrame < 1 {
		err := fmt.Errorf("must be >= 1, got %d", opts.NthFrame)
		utils.ShowError("Invalid nth-frame interval", err, nil)
		return err
	}
	if opts.NumEngines < 1 {
		opts.NumEngines = 1
	}
	if opts.PixFmt != "gray" && opts.PixFmt != "bgra" {
		err := fmt.Errorf("invalid pixel format '%s'. Must be 'gray' or 'bgra'", opts.PixFmt)
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	return nil
}
