// Package engine owns the end-to-end pipeline run: pull content units,
// resolve assets through the cache, compose frames in order, feed the
// encoder, hand back the artifact.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/web2video/internal/cache"
	"github.com/ivlev/web2video/internal/compose"
	"github.com/ivlev/web2video/internal/config"
	"github.com/ivlev/web2video/internal/content"
	"github.com/ivlev/web2video/internal/encode"
)

// ErrCancelled marks a user-aborted run.
var ErrCancelled = errors.New("pipeline cancelled")

// State tracks where a run currently is. Failed is terminal and reachable
// from every non-terminal state.
type State int

const (
	StateIdle State = iota
	StateFetchingUnits
	StateResolving
	StateComposing
	StateEncoding
	StateFinalized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetchingUnits:
		return "fetching-units"
	case StateResolving:
		return "resolving"
	case StateComposing:
		return "composing"
	case StateEncoding:
		return "encoding"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EncoderSession consumes frames strictly in presentation order.
type EncoderSession interface {
	WriteFrame(*compose.Frame) error
	Close() error
	Abort()
}

// Encoder opens one session per run.
type Encoder interface {
	Begin(ctx context.Context, outPath string) (EncoderSession, error)
}

type ffmpegEncoder struct {
	enc *encode.FFmpeg
}

func (f ffmpegEncoder) Begin(ctx context.Context, outPath string) (EncoderSession, error) {
	sess, err := f.enc.Begin(ctx, outPath)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// WrapFFmpeg adapts the ffmpeg encoder to the Encoder interface.
func WrapFFmpeg(enc *encode.FFmpeg) Encoder {
	return ffmpegEncoder{enc: enc}
}

// Result summarizes a finalized run.
type Result struct {
	RunID    string
	Artifact string
	Units    int
	Frames   int
	// Skipped lists the indexes of units whose frame was omitted.
	Skipped []int
	Elapsed time.Duration
}

// Pipeline is the orchestrator for one or more runs. It owns no shared
// mutable state beyond the cache handle it was given.
type Pipeline struct {
	cfg    *config.Config
	source content.Source
	cache  *cache.Cache
	comp   *compose.Compositor
	enc    Encoder
	log    zerolog.Logger
	state  State
}

func New(cfg *config.Config, source content.Source, c *cache.Cache, comp *compose.Compositor, enc Encoder, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		source: source,
		cache:  c,
		comp:   comp,
		enc:    enc,
		log:    log.With().Str("component", "engine").Logger(),
		state:  StateIdle,
	}
}

func (p *Pipeline) State() State { return p.state }

// Run executes one pipeline pass. Per-unit fetch, decode and composition
// failures skip the unit unless strict mode escalates them; encoding
// failures and cancellation are always fatal.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := p.log.With().Str("run", runID).Logger()

	p.transition(log, StateFetchingUnits)
	units, err := p.source.Units(ctx)
	if err != nil {
		return nil, p.fail(log, fmt.Errorf("fetch units: %w", err))
	}
	log.Info().Int("units", len(units)).Str("title", p.source.Title()).Msg("content loaded")

	p.transition(log, StateResolving)
	resolved, unitErrs := p.resolve(ctx, units)
	if err := ctx.Err(); err != nil {
		return nil, p.fail(log, fmt.Errorf("%w: %v", ErrCancelled, err))
	}
	if p.cfg.Strict {
		for i, uerr := range unitErrs {
			if uerr != nil {
				return nil, p.fail(log, fmt.Errorf("unit %d: %w", i, uerr))
			}
		}
	}

	p.transition(log, StateComposing)
	frames, skipped, err := p.composeAll(ctx, log, units, resolved, unitErrs)
	if err != nil {
		return nil, p.fail(log, err)
	}
	if len(frames) == 0 {
		return nil, p.fail(log, fmt.Errorf("all %d units skipped, nothing to encode", len(units)))
	}

	p.transition(log, StateEncoding)
	sess, err := p.enc.Begin(ctx, p.cfg.OutputVideo)
	if err != nil {
		releaseFrames(frames)
		return nil, p.fail(log, err)
	}
	for i, f := range frames {
		if cerr := ctx.Err(); cerr != nil {
			sess.Abort()
			releaseFrames(frames[i:])
			return nil, p.fail(log, fmt.Errorf("%w: %v", ErrCancelled, cerr))
		}
		if werr := sess.WriteFrame(f); werr != nil {
			sess.Abort()
			releaseFrames(frames[i:])
			return nil, p.fail(log, werr)
		}
		f.Release()
	}
	if err := sess.Close(); err != nil {
		return nil, p.fail(log, err)
	}

	p.transition(log, StateFinalized)
	res := &Result{
		RunID:    runID,
		Artifact: p.cfg.OutputVideo,
		Units:    len(units),
		Frames:   len(frames),
		Skipped:  skipped,
		Elapsed:  time.Since(start),
	}
	log.Info().
		Str("artifact", res.Artifact).
		Int("frames", res.Frames).
		Int("skipped", len(res.Skipped)).
		Dur("elapsed", res.Elapsed).
		Msg("pipeline finalized")
	return res, nil
}

// resolve fetches every referenced asset through the cache on a bounded
// worker pool. Failures are recorded per unit, never aborting the pool:
// skip-versus-escalate is the caller's decision.
func (p *Pipeline) resolve(ctx context.Context, units []content.Unit) ([][]byte, []error) {
	resolved := make([][]byte, len(units))
	unitErrs := make([]error, len(units))

	workers := p.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)

	for i, u := range units {
		if err := u.Validate(); err != nil {
			unitErrs[i] = err
			continue
		}
		if u.Image.IsZero() {
			continue
		}
		g.Go(func() error {
			asset, err := p.cache.GetOrFetch(ctx, u.Image, cache.KindImage)
			if err != nil {
				unitErrs[i] = err
				return nil
			}
			resolved[i] = asset.Bytes
			return nil
		})
	}
	_ = g.Wait()
	return resolved, unitErrs
}

// composeAll renders frames strictly in unit order, bracketed by the
// optional cover and ending title frames.
func (p *Pipeline) composeAll(ctx context.Context, log zerolog.Logger, units []content.Unit, resolved [][]byte, unitErrs []error) ([]*compose.Frame, []int, error) {
	frames := make([]*compose.Frame, 0, len(units)+2)
	var skipped []int

	title := p.source.Title()
	if title != "" && p.cfg.CoverSec > 0 {
		cover, err := p.titleFrame(title, p.cfg.CoverSec)
		if err != nil {
			return nil, nil, err
		}
		frames = append(frames, cover)
	}

	for i, u := range units {
		if err := ctx.Err(); err != nil {
			releaseFrames(frames)
			return nil, nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		if unitErrs[i] != nil {
			log.Warn().Int("unit", i).Err(unitErrs[i]).Msg("unit skipped")
			skipped = append(skipped, i)
			continue
		}
		frame, err := p.comp.Compose(u, resolved[i])
		if err != nil {
			if p.cfg.Strict {
				releaseFrames(frames)
				return nil, nil, fmt.Errorf("unit %d: %w", i, err)
			}
			log.Warn().Int("unit", i).Err(err).Msg("unit skipped")
			skipped = append(skipped, i)
			continue
		}
		frames = append(frames, frame)
	}

	if title != "" && p.cfg.EndingSec > 0 {
		ending, err := p.titleFrame(title, p.cfg.EndingSec)
		if err != nil {
			releaseFrames(frames)
			return nil, nil, err
		}
		frames = append(frames, ending)
	}
	return frames, skipped, nil
}

// releaseFrames returns unconsumed frame buffers to the image pool when a
// run aborts before the encoder has drained them.
func releaseFrames(frames []*compose.Frame) {
	for _, f := range frames {
		f.Release()
	}
}

func (p *Pipeline) titleFrame(title string, seconds float64) (*compose.Frame, error) {
	return p.comp.Compose(content.Unit{
		Kind:     content.KindText,
		Text:     title,
		Duration: seconds,
	}, nil)
}

func (p *Pipeline) transition(log zerolog.Logger, next State) {
	log.Debug().Stringer("from", p.state).Stringer("to", next).Msg("state transition")
	p.state = next
}

func (p *Pipeline) fail(log zerolog.Logger, err error) error {
	p.state = StateFailed
	log.Error().Err(err).Msg("pipeline failed")
	return err
}
