// Package worker talks to the Python feature extractor: face detection, 128-d
// encodings and 68-point landmarks for each JPEG frame.
package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/andresmejia3/vigil/internal/geometry"
	"github.com/andresmejia3/vigil/internal/matcher"
	"github.com/andresmejia3/vigil/internal/types"
	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/pkg/errors"
)

// DefaultPredictorPath is where setup places the dlib landmark model.
const DefaultPredictorPath = "models/shape_predictor_68_face_landmarks.dat"

// maxResponseSize bounds a single extractor reply, matching the frame reader.
const maxResponseSize = 64 << 20

// ErrLandmarkModelMissing means the landmark model file is absent. The
// extractor must not run without it.
var ErrLandmarkModelMissing = errors.New("landmark model not found")

// Config controls how the extractor process is started.
type Config struct {
	Script        string        // Python entry point
	PredictorPath string        // dlib 68-point shape predictor
	Downsample    int           // detection runs on a frame shrunk by this factor
	ReadTimeout   time.Duration // 0 disables the deadline
}

// ExtractorError is a failure reported by the extractor for a single frame
// (status byte 1). The process is still healthy after one.
type ExtractorError struct {
	Msg string
}

func (e *ExtractorError) Error() string {
	return "python worker error: " + e.Msg
}

// DefaultConfig mirrors the CLI defaults.
func DefaultConfig() Config {
	return Config{
		Script:        "python/worker.py",
		PredictorPath: DefaultPredictorPath,
		Downsample:    4,
		ReadTimeout:   30 * time.Second,
	}
}

// deadliner is implemented by *os.File pipes.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Worker owns one extractor process.
type Worker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	timeout  time.Duration
}

// New verifies the landmark model and starts the extractor.
func New(ctx context.Context, id int, cfg Config) (*Worker, error) {
	if _, err := os.Stat(cfg.PredictorPath); err != nil {
		return nil, errors.Wrapf(ErrLandmarkModelMissing, "%s", cfg.PredictorPath)
	}
	if cfg.Downsample < 1 {
		cfg.Downsample = 1
	}

	py := utils.NewSafeCommand(ctx, "python3", "-u", cfg.Script,
		"--predictor", cfg.PredictorPath,
		"--downsample", fmt.Sprint(cfg.Downsample))

	// Side-channel pipe (FD 3) keeps the binary protocol clear of Python's stdout noise
	r, w, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pipe")
	}
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, errors.Wrap(err, "failed to create stdin pipe")
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, errors.Wrapf(err, "worker %d failed to start", id)
	}

	// Only the child holds the write end now
	w.Close()

	return &Worker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		timeout:  cfg.ReadTimeout,
	}, nil
}

func (w *Worker) communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, errors.Wrap(err, "failed to send frame header")
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, errors.Wrap(err, "failed to send frame")
	}

	if d, ok := w.DataPipe.(deadliner); ok && w.timeout > 0 {
		d.SetReadDeadline(time.Now().Add(w.timeout))
		defer d.SetReadDeadline(time.Time{})
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, errors.Wrap(err, "failed to read response header")
	}
	n := binary.BigEndian.Uint32(header)
	if n > maxResponseSize {
		return nil, fmt.Errorf("response of %d bytes exceeds the %d byte limit", n, maxResponseSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(w.DataPipe, body); err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}
	return body, nil
}

// ProcessFrame sends one JPEG and decodes the detections. Boxes come back in
// detection space and are scaled to the full frame here; landmarks are
// already full-frame.
func (w *Worker) ProcessFrame(jpeg []byte) (types.Frame, []types.DetectedFace, error) {
	resp, err := w.communicate(jpeg)
	if err != nil {
		return types.Frame{}, nil, err
	}
	return decodeResponse(resp)
}

type wireHeader struct {
	Width    uint32
	Height   uint32
	Scale    float32
	NumFaces uint32
}

type wireFace struct {
	Box       [4]int32 // top, right, bottom, left
	Embedding [matcher.EmbeddingDim]float32
	Landmarks [types.NumLandmarks][2]int32
}

// decodeResponse parses
//
//	[Status:0] [Width] [Height] [Scale] [NumFaces] ([Box] [Embedding] [Landmarks])*
//	[Status:1] [MsgLen] [Msg]
func decodeResponse(resp []byte) (types.Frame, []types.DetectedFace, error) {
	if len(resp) == 0 {
		return types.Frame{}, nil, errors.New("empty response from worker")
	}
	r := bytes.NewReader(resp[1:])

	if resp[0] != 0 {
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return types.Frame{}, nil, errors.Wrap(err, "malformed worker error")
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return types.Frame{}, nil, errors.Wrap(err, "malformed worker error")
		}
		return types.Frame{}, nil, &ExtractorError{Msg: string(msg)}
	}

	var hdr wireHeader
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return types.Frame{}, nil, errors.Wrap(err, "malformed response header")
	}
	faceSize := binary.Size(wireFace{})
	if int64(hdr.NumFaces)*int64(faceSize) != int64(r.Len()) {
		return types.Frame{}, nil, fmt.Errorf("response declares %d faces but carries %d bytes", hdr.NumFaces, r.Len())
	}

	frame := types.Frame{Width: int(hdr.Width), Height: int(hdr.Height)}
	scale := geometry.Scale{Factor: float64(hdr.Scale)}

	faces := make([]types.DetectedFace, 0, hdr.NumFaces)
	for i := uint32(0); i < hdr.NumFaces; i++ {
		var wf wireFace
		if err := binary.Read(r, binary.BigEndian, &wf); err != nil {
			return types.Frame{}, nil, errors.Wrapf(err, "malformed face %d", i)
		}

		face := types.DetectedFace{
			Box: scale.Box(types.Box{
				Top:    int(wf.Box[0]),
				Right:  int(wf.Box[1]),
				Bottom: int(wf.Box[2]),
				Left:   int(wf.Box[3]),
			}),
			Embedding: make([]float64, matcher.EmbeddingDim),
		}
		for j, v := range wf.Embedding {
			if math.IsNaN(float64(v)) {
				return types.Frame{}, nil, fmt.Errorf("face %d: NaN in embedding", i)
			}
			face.Embedding[j] = float64(v)
		}
		for j, p := range wf.Landmarks {
			face.Landmarks[j] = types.Point{X: int(p[0]), Y: int(p[1])}
		}
		faces = append(faces, face)
	}
	return frame, faces, nil
}

// Close shuts the extractor down and waits for it to exit.
func (w *Worker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
