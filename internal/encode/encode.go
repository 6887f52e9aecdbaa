// Package encode turns an ordered frame sequence into a single video file
// by feeding raw RGBA frames to ffmpeg over stdin. Frame durations are
// quantized to the encoder timebase (1/fps) with a carried remainder, so
// rounding error never accumulates across a run.
package encode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ivlev/web2video/internal/compose"
)

// ErrEncodingFailed marks encoder failures. They are always fatal for the
// run; callers must discard partial output via Abort.
var ErrEncodingFailed = errors.New("video encoding failed")

type Options struct {
	Width, Height int
	FPS           int
	// Encoder is the ffmpeg video codec name, e.g. libx264,
	// h264_videotoolbox or h264_nvenc.
	Encoder string
	Quality int
}

// FFmpeg drives one external ffmpeg process per encoding session.
type FFmpeg struct {
	opts Options
	log  zerolog.Logger
}

func NewFFmpeg(opts Options, log zerolog.Logger) *FFmpeg {
	if opts.Encoder == "" {
		opts.Encoder = "libx264"
	}
	return &FFmpeg{opts: opts, log: log.With().Str("component", "encode").Logger()}
}

// Begin starts an encoding session writing to outPath. The stream is
// encoded into a hidden sibling file and only renamed into place by a
// successful Close, so a failed run never leaves a corrupt artifact at the
// caller's path.
func (e *FFmpeg) Begin(ctx context.Context, outPath string) (*Session, error) {
	if e.opts.Width <= 0 || e.opts.Height <= 0 || e.opts.FPS <= 0 {
		return nil, fmt.Errorf("%w: invalid options %dx%d@%d", ErrEncodingFailed, e.opts.Width, e.opts.Height, e.opts.FPS)
	}

	tmpPath := outPath + ".part"
	args := buildArgs(e.opts, tmpPath)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrEncodingFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrEncodingFailed, err)
	}

	e.log.Debug().Str("out", outPath).Str("encoder", e.opts.Encoder).Msg("encoding session started")
	return &Session{
		opts:      e.opts,
		cmd:       cmd,
		stdin:     stdin,
		output:    &output,
		tmpPath:   tmpPath,
		finalPath: outPath,
		log:       e.log,
	}, nil
}

func buildArgs(opts Options, outPath string) []string {
	args := []string{
		"-y",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-framerate", strconv.Itoa(opts.FPS),
		"-i", "-",
		"-r", strconv.Itoa(opts.FPS),
		"-pix_fmt", "yuv420p",
		"-c:v", opts.Encoder,
	}

	quality := opts.Quality
	switch opts.Encoder {
	case "h264_videotoolbox":
		// VideoToolbox has no portable constant-quality knob, use bitrate.
		if quality == 0 {
			quality = 75
		}
		args = append(args, "-b:v", fmt.Sprintf("%dk", quality*100))
	case "h264_nvenc":
		if quality == 0 {
			quality = 28
		}
		args = append(args, "-cq", strconv.Itoa(quality))
	default:
		if quality == 0 {
			quality = 23
		}
		args = append(args, "-crf", strconv.Itoa(quality), "-preset", "medium")
	}

	return append(args, outPath)
}

// Session accepts frames strictly in presentation order.
type Session struct {
	opts      Options
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	output    *bytes.Buffer
	tmpPath   string
	finalPath string
	log       zerolog.Logger

	carry  float64
	frames int
	ticks  int64
}

// WriteFrame emits one frame for its quantized number of timebase ticks.
// The frame must match the session dimensions.
func (s *Session) WriteFrame(f *compose.Frame) error {
	b := f.Image.Bounds()
	if b.Dx() != s.opts.Width || b.Dy() != s.opts.Height {
		return fmt.Errorf("%w: frame %dx%d does not match stream %dx%d",
			ErrEncodingFailed, b.Dx(), b.Dy(), s.opts.Width, s.opts.Height)
	}

	n, carry := quantize(f.Duration, s.opts.FPS, s.carry)
	pix := rawRGBA(f.Image)
	for i := 0; i < n; i++ {
		if _, err := s.stdin.Write(pix); err != nil {
			return fmt.Errorf("%w: write frame %d: %v", ErrEncodingFailed, s.frames, err)
		}
	}
	s.carry = carry
	s.frames++
	s.ticks += int64(n)
	return nil
}

// quantize maps a duration in seconds to a whole number of 1/fps ticks,
// rounding to nearest and carrying the remainder into the next frame.
// Every frame occupies at least one tick so none is ever dropped.
func quantize(seconds float64, fps int, carry float64) (int, float64) {
	exact := seconds*float64(fps) + carry
	n := int(math.Round(exact))
	if n < 1 {
		n = 1
	}
	return n, exact - float64(n)
}

// FramesWritten is the number of source frames accepted so far.
func (s *Session) FramesWritten() int { return s.frames }

// Duration is the encoded stream length in seconds so far.
func (s *Session) Duration() float64 {
	return float64(s.ticks) / float64(s.opts.FPS)
}

// Close finalizes the stream and moves the artifact into place.
func (s *Session) Close() error {
	if err := s.stdin.Close(); err != nil {
		s.discard()
		return fmt.Errorf("%w: close stream: %v", ErrEncodingFailed, err)
	}
	if err := s.cmd.Wait(); err != nil {
		s.discard()
		return fmt.Errorf("%w: ffmpeg: %v: %s", ErrEncodingFailed, err, tail(s.output, 800))
	}
	if err := os.Rename(s.tmpPath, s.finalPath); err != nil {
		s.discard()
		return fmt.Errorf("%w: finalize artifact: %v", ErrEncodingFailed, err)
	}
	s.log.Debug().Int("frames", s.frames).Int64("ticks", s.ticks).Str("out", s.finalPath).Msg("encoding finished")
	return nil
}

// Abort terminates the session and removes any partial output.
func (s *Session) Abort() {
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
	s.discard()
}

func (s *Session) discard() {
	_ = os.Remove(s.tmpPath)
}

func tail(buf *bytes.Buffer, n int) string {
	out := buf.String()
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// rawRGBA returns the frame's pixels as tightly packed RGBA bytes,
// converting only when the source buffer has an offset or padded stride.
func rawRGBA(img *image.RGBA) []byte {
	bounds := img.Bounds()
	if img.Stride == bounds.Dx()*4 && bounds.Min.X == 0 && bounds.Min.Y == 0 {
		return img.Pix[:bounds.Dy()*img.Stride]
	}
	packed := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(packed, packed.Bounds(), img, bounds.Min, draw.Src)
	return packed.Pix
}
