package processing

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/spartis/scanviewer/internal/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

var errNotNIfTI = errors.New("not a NIfTI volume")

// BoundsPipeline is the built-in development pipeline. It decompresses the
// scan, reads the NIfTI header and emits the volume's bounding box as a
// mesh in millimetres. It stands in for a real segmentation pipeline.
type BoundsPipeline struct{}

func (BoundsPipeline) Name() string { return "bounds" }

func (BoundsPipeline) Run(ctx context.Context, scanPath, outputPath string, report ReportFunc) error {
	f, err := os.Open(scanPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}

	report(5, "Decompressing scan")
	counter := &countingReader{r: f}
	zr, err := gzip.NewReader(counter)
	if err != nil {
		return fmt.Errorf("not a gzip file: %w", err)
	}
	defer zr.Close()

	var header bytes.Buffer
	if _, err := io.CopyN(&header, zr, nifti2HeaderSize); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read header: %w", err)
	}
	extent, err := parseNIfTIExtent(header.Bytes())
	if err != nil {
		return err
	}

	// Stream the rest so a truncated or corrupt scan fails here.
	buf := make([]byte, 1024*1024)
	lastUpdate := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, readErr := zr.Read(buf)
		if time.Since(lastUpdate) > 100*time.Millisecond && st.Size() > 0 {
			pct := 5 + int(float64(counter.n)/float64(st.Size())*65)
			report(min(pct, 70), "Decompressing scan")
			lastUpdate = time.Now()
		}
		if readErr != nil {
			if readErr != io.EOF {
				return fmt.Errorf("decompress: %w", readErr)
			}
			break
		}
	}

	report(80, "Building mesh")
	g := mesh.Cuboid("bounds", r3.Vec{}, extent)

	report(90, "Writing mesh")
	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := mesh.WriteBinarySTL(out, g); err != nil {
		out.Close()
		os.Remove(outputPath)
		return fmt.Errorf("write mesh: %w", err)
	}
	return out.Close()
}

const (
	nifti1HeaderSize = 348
	nifti2HeaderSize = 540
)

// parseNIfTIExtent returns the physical size of the volume along x, y, z.
// Both NIfTI-1 and NIfTI-2 headers are accepted, in either byte order.
func parseNIfTIExtent(h []byte) (r3.Vec, error) {
	if len(h) < nifti1HeaderSize {
		return r3.Vec{}, errNotNIfTI
	}
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		switch order.Uint32(h[0:4]) {
		case nifti1HeaderSize:
			var dims [3]float64
			for i := range dims {
				n := float64(int16(order.Uint16(h[40+2*(i+1):])))
				px := float64(math.Float32frombits(order.Uint32(h[76+4*(i+1):])))
				dims[i] = axisExtent(n, px)
			}
			return r3.Vec{X: dims[0], Y: dims[1], Z: dims[2]}, nil
		case nifti2HeaderSize:
			if len(h) < nifti2HeaderSize {
				return r3.Vec{}, errNotNIfTI
			}
			var dims [3]float64
			for i := range dims {
				n := float64(int64(order.Uint64(h[16+8*(i+1):])))
				px := math.Float64frombits(order.Uint64(h[104+8*(i+1):]))
				dims[i] = axisExtent(n, px)
			}
			return r3.Vec{X: dims[0], Y: dims[1], Z: dims[2]}, nil
		}
	}
	return r3.Vec{}, errNotNIfTI
}

func axisExtent(n, spacing float64) float64 {
	if n < 1 {
		n = 1
	}
	spacing = math.Abs(spacing)
	if spacing == 0 || math.IsNaN(spacing) || math.IsInf(spacing, 0) {
		spacing = 1
	}
	return n * spacing
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
