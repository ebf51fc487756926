package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidFrame is returned at the call boundary when a frame violates its shape contract.
// It indicates a caller bug, not a runtime condition.
var ErrInvalidFrame = errors.New("invalid frame")

// PixelFormat declares how a Frame's planes are laid out.
type PixelFormat int

const (
	// FormatLuma covers planar formats whose first plane is 8-bit luminance (NV12, NV21, I420, GRAY).
	FormatLuma PixelFormat = iota
	// FormatBGRA is packed 32-bit B,G,R,A in a single plane.
	FormatBGRA
)

func (p PixelFormat) String() string {
	switch p {
	case FormatLuma:
		return "luma"
	case FormatBGRA:
		return "bgra"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(p))
	}
}

// BytesPerPixel is the minimum pixel stride of plane 0 for the format.
func (p PixelFormat) BytesPerPixel() int {
	if p == FormatBGRA {
		return 4
	}
	return 1
}

// Plane is one contiguous buffer of a Frame.
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// Frame is a camera frame borrowed for the duration of one analysis call.
// Nothing may keep a reference to Planes after the call returns.
type Frame struct {
	Width     int
	Height    int
	Format    PixelFormat
	Planes    []Plane
	Timestamp time.Time
	Seq       uint64
}

// Validate checks the frame shape. Zero-sized frames are valid (and degenerate).
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalidFrame)
	}
	if f.Width < 0 || f.Height < 0 {
		return fmt.Errorf("%w: negative dimensions %dx%d", ErrInvalidFrame, f.Width, f.Height)
	}
	if f.Format != FormatLuma && f.Format != FormatBGRA {
		return fmt.Errorf("%w: unsupported pixel format %v", ErrInvalidFrame, f.Format)
	}
	if len(f.Planes) == 0 {
		return fmt.Errorf("%w: missing plane 0", ErrInvalidFrame)
	}
	if f.Width == 0 || f.Height == 0 {
		return nil
	}

	p := f.Planes[0]
	bpp := f.Format.BytesPerPixel()
	pixelStride := p.PixelStride
	if f.Format == FormatBGRA {
		pixelStride = bpp
	}
	if pixelStride < bpp {
		return fmt.Errorf("%w: pixel stride %d smaller than %d", ErrInvalidFrame, p.PixelStride, bpp)
	}
	if p.RowStride < (f.Width-1)*pixelStride+bpp {
		return fmt.Errorf("%w: row stride %d too small for width %d", ErrInvalidFrame, p.RowStride, f.Width)
	}
	need := (f.Height-1)*p.RowStride + (f.Width-1)*pixelStride + bpp
	if len(p.Data) < need {
		return fmt.Errorf("%w: plane 0 holds %d bytes, need %d", ErrInvalidFrame, len(p.Data), need)
	}
	return nil
}

// NewLumaFrame wraps a tightly packed 8-bit grey buffer.
func NewLumaFrame(width, height int, pix []byte) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Format: FormatLuma,
		Planes: []Plane{{Data: pix, RowStride: width, PixelStride: 1}},
	}
}

// NewBGRAFrame wraps a packed BGRA buffer with the given row stride.
func NewBGRAFrame(width, height, rowStride int, pix []byte) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Format: FormatBGRA,
		Planes: []Plane{{Data: pix, RowStride: rowStride, PixelStride: 4}},
	}
}

// Point is a position in pixel coordinates.
type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// Landmarks is the output shape of a face/eye landmark capability.
// Eye points are in pixels; FaceWidth is the face bounding-box width divided by frame width.
type Landmarks struct {
	Left      []Point `json:"left"`
	Right     []Point `json:"right"`
	FaceWidth float64 `json:"face_width"`
}

// NewLandmarksFromBox normalizes the "raw eye centres plus pixel face box" convention.
func NewLandmarksFromBox(leftEye, rightEye Point, faceBoxWidthPx float64, frameWidth int) *Landmarks {
	lm := &Landmarks{
		Left:  []Point{leftEye},
		Right: []Point{rightEye},
	}
	if frameWidth > 0 {
		lm.FaceWidth = faceBoxWidthPx / float64(frameWidth)
	}
	return lm
}

// SharpnessResult is the Laplacian-variance focus measure of one frame.
type SharpnessResult struct {
	Sharpness float64 `json:"sharpness"`
	IsBlurry  bool    `json:"isBlurry"`
}

// LightingStatus classifies average brightness.
type LightingStatus int

const (
	TooDark LightingStatus = iota
	TooBright
	Good
)

func (s LightingStatus) String() string {
	switch s {
	case TooDark:
		return "too_dark"
	case TooBright:
		return "too_bright"
	case Good:
		return "good"
	default:
		return fmt.Sprintf("LightingStatus(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s LightingStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *LightingStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "too_dark":
		*s = TooDark
	case "too_bright":
		*s = TooBright
	case "good":
		*s = Good
	default:
		return fmt.Errorf("unknown lighting status %q", string(b))
	}
	return nil
}

// BrightnessResult is the sampled average luminance of one frame.
type BrightnessResult struct {
	Brightness float64        `json:"brightness"`
	Status     LightingStatus `json:"status"`
}

// IrisResult locates the eye pair in normalized coordinates.
// Distance is a heuristic proxy in [0,1], not a metric distance.
type IrisResult struct {
	Detected bool    `json:"detected"`
	CenterX  float64 `json:"centerX"`
	CenterY  float64 `json:"centerY"`
	Radius   float64 `json:"radius"`
	Distance float64 `json:"distance"`
}

// FrameResult carries the three analyzer outputs for one analyzed frame.
type FrameResult struct {
	Seq        uint64           `json:"seq"`
	Timestamp  time.Time        `json:"timestamp"`
	Iris       IrisResult       `json:"iris"`
	Sharpness  SharpnessResult  `json:"sharpness"`
	Brightness BrightnessResult `json:"brightness"`
}

// Vec2 is a normalized 2D position.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// GuidanceState is what the presentation layer renders after every analyzed frame.
type GuidanceState struct {
	IrisDetected   bool           `json:"irisDetected"`
	IrisCenter     Vec2           `json:"irisCenter"`
	IrisRadius     float64        `json:"irisRadius"`
	Distance       float64        `json:"distance"`
	FocusQuality   float64        `json:"focusQuality"`
	IsBlurry       bool           `json:"isBlurry"`
	Brightness     float64        `json:"brightness"`
	LightingStatus LightingStatus `json:"lightingStatus"`
	IsReady        bool           `json:"isReady"`
	ReadyToCapture bool           `json:"readyToCapture"`
}

// DefaultGuidanceState is the state before any frame has been analyzed.
func DefaultGuidanceState() GuidanceState {
	return GuidanceState{
		IrisCenter:     Vec2{X: 0.5, Y: 0.5},
		IsBlurry:       true,
		LightingStatus: TooDark,
	}
}

// FrameTask represents a single decoded frame sent to an engine for analysis
type FrameTask struct {
	Index int
	Frame *Frame
}
