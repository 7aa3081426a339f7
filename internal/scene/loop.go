package scene

import (
	"context"
	"image"
	"time"
)

// DefaultFPS is the interactive frame rate of the render loop.
const DefaultFPS = 30

// FrameSink receives rendered frames. Returning an error stops the loop.
type FrameSink func(frame *image.RGBA) error

// FrameSource produces frames on demand. Version must change whenever the
// next frame would differ from the last one.
type FrameSource interface {
	Frame(size image.Point) *image.RGBA
	Version() uint64
}

// Loop renders a source continuously until its context ends.
type Loop struct {
	Source FrameSource
	Size   image.Point
	FPS    int
	// OnlyOnChange skips frames when nothing in the scene changed since the
	// previous one.
	OnlyOnChange bool
}

// Run blocks until ctx is cancelled or sink fails. A frame is produced
// immediately on start.
func (l *Loop) Run(ctx context.Context, sink FrameSink) error {
	fps := l.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	var (
		last  uint64
		first = true
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		v := l.Source.Version()
		if first || !l.OnlyOnChange || v != last {
			first = false
			last = v
			if err := sink(l.Source.Frame(l.Size)); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
