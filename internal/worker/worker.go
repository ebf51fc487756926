package worker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/irisguide/internal/types"
	"github.com/andresmejia3/irisguide/internal/utils" // Using the SafeCommand wrapper
	"github.com/vmihailenco/msgpack/v5"
)

// Response statuses written by the landmark process.
const (
	StatusOK     = "ok"
	StatusNoFace = "no_face"
	StatusError  = "error"
)

// maxResponseSize guards against a corrupted length header allocating gigabytes.
const maxResponseSize = 1 << 20

// ErrWorkerBroken is returned once the landmark process's data pipe has failed (usually EOF
// from a crashed child). It is permanent for the worker.
var ErrWorkerBroken = errors.New("landmark worker is broken")

// ErrResponseTimeout is returned when an answer did not arrive before the deadline. The answer
// is still owed and is discarded when it shows up.
var ErrResponseTimeout = errors.New("landmark worker response timed out")

// ErrWorkerBusy is returned when an earlier, late answer is still outstanding; the frame is not sent.
var ErrWorkerBusy = errors.New("landmark worker still busy with a previous frame")

// Request is one frame sent to the landmark process. Only plane 0 travels.
type Request struct {
	Width       int    `msgpack:"width"`
	Height      int    `msgpack:"height"`
	Format      string `msgpack:"format"`
	RowStride   int    `msgpack:"row_stride"`
	PixelStride int    `msgpack:"pixel_stride"`
	Data        []byte `msgpack:"data"`
}

// Response is the landmark process's answer. Eye points are in pixels.
type Response struct {
	Status    string        `msgpack:"status"`
	Left      []types.Point `msgpack:"left"`
	Right     []types.Point `msgpack:"right"`
	FaceWidth float64       `msgpack:"face_width"`
	Error     string        `msgpack:"error"`
}

// reply is one length-prefixed message read from the data pipe.
type reply struct {
	body []byte
}

// LandmarkWorker drives an external landmark detector (e.g. a MediaPipe script) over pipes.
// Requests go to the child's stdin; answers come back on a side-channel at FD 3 so the
// child's own stdout and stderr chatter never corrupts the protocol.
type LandmarkWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	Timeout  time.Duration

	mu      sync.Mutex
	pending int // requests sent whose answers have not been read yet

	readerOnce sync.Once
	replies    chan reply
	readErr    error // set before replies is closed
}

// NewLandmarkWorker starts command with the FD 3 side-channel attached.
func NewLandmarkWorker(id int, command []string, timeout time.Duration) (*LandmarkWorker, error) {
	if len(command) == 0 {
		return nil, errors.New("landmark worker needs a command")
	}
	proc := utils.NewSafeCommand(command[0], command[1:]...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	proc.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := proc.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &LandmarkWorker{
		ID:       id,
		Cmd:      proc,
		Stdin:    stdin,
		DataPipe: r,
		Timeout:  timeout,
	}, nil
}

// Communicate sends one length-prefixed message and reads one back.
func (w *LandmarkWorker) Communicate(data []byte, deadline time.Time) ([]byte, error) {
	return w.communicate(context.Background(), data, deadline)
}

// communicate keeps the request/answer stream in step: answers that missed their deadline are
// drained before a new frame goes out, and a frame is skipped while one is still outstanding.
func (w *LandmarkWorker) communicate(ctx context.Context, data []byte, deadline time.Time) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.readerOnce.Do(w.startReader)

	for w.pending > 0 {
		if _, err := w.await(ctx, deadline); err != nil {
			if errors.Is(err, ErrResponseTimeout) {
				return nil, ErrWorkerBusy
			}
			return nil, err
		}
	}

	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWorkerBroken, err)
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWorkerBroken, err)
	}
	w.pending++

	return w.await(ctx, deadline)
}

// await takes the next answer off the pipe. On timeout or cancellation the answer stays owed.
func (w *LandmarkWorker) await(ctx context.Context, deadline time.Time) ([]byte, error) {
	var expired <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case r, ok := <-w.replies:
		if !ok {
			return nil, fmt.Errorf("%w: %w", ErrWorkerBroken, w.readErr)
		}
		w.pending--
		return r.body, nil
	case <-expired:
		return nil, ErrResponseTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *LandmarkWorker) startReader() {
	w.replies = make(chan reply, 4)
	go w.readLoop()
}

// readLoop frames answers off the data pipe until it fails. A failed pipe cannot be resynced.
func (w *LandmarkWorker) readLoop() {
	defer close(w.replies)
	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(w.DataPipe, header); err != nil {
			w.readErr = err // A crashed child shows up here as EOF
			return
		}
		respLen := binary.BigEndian.Uint32(header)
		if respLen > maxResponseSize {
			w.readErr = fmt.Errorf("response of %d bytes exceeds limit", respLen)
			return
		}
		body := make([]byte, respLen)
		if _, err := io.ReadFull(w.DataPipe, body); err != nil {
			w.readErr = err
			return
		}
		w.replies <- reply{body: body}
	}
}

// LocateLandmarks sends plane 0 of f to the child and decodes its landmarks.
func (w *LandmarkWorker) LocateLandmarks(ctx context.Context, f *types.Frame) (*types.Landmarks, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(f.Planes) == 0 {
		return nil, types.ErrInvalidFrame
	}

	p := f.Planes[0]
	payload, err := msgpack.Marshal(&Request{
		Width:       f.Width,
		Height:      f.Height,
		Format:      f.Format.String(),
		RowStride:   p.RowStride,
		PixelStride: p.PixelStride,
		Data:        p.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	raw, err := w.communicate(ctx, payload, w.deadline(ctx))
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", w.ID, err)
	}
	return decodeResponse(raw)
}

func (w *LandmarkWorker) deadline(ctx context.Context) time.Time {
	var d time.Time
	if w.Timeout > 0 {
		d = time.Now().Add(w.Timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}

func decodeResponse(raw []byte) (*types.Landmarks, error) {
	var resp Response
	if err := msgpack.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	switch resp.Status {
	case StatusOK:
		if len(resp.Left) == 0 || len(resp.Right) == 0 {
			return nil, nil
		}
		return &types.Landmarks{Left: resp.Left, Right: resp.Right, FaceWidth: resp.FaceWidth}, nil
	case StatusNoFace:
		return nil, nil
	case StatusError:
		return nil, fmt.Errorf("landmark worker error: %s", resp.Error)
	default:
		return nil, fmt.Errorf("landmark worker sent unknown status %q", resp.Status)
	}
}

// Close ends the child process and returns its exit error, if any.
func (w *LandmarkWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
