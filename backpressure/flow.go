package backpressure

import (
	"context"
	"io"

	"github.com/jfrog/go-stream-extractor/progress"
)

const defaultFlowBufSize = 32 * 1024

// FlowOptions configures MonitorStreamFlow.
type FlowOptions struct {
	// TotalBytes is the expected length of the source. Zero means unknown, in
	// which case progress is only reported once the copy completes.
	TotalBytes int64
	// OnProgress receives the percent complete whenever it changes.
	OnProgress func(percent int)
	BufSize    int
}

// MonitorStreamFlow copies src into dst, reporting progress as it goes. It
// returns the number of bytes copied.
func MonitorStreamFlow(ctx context.Context, src io.Reader, dst io.Writer, opts FlowOptions) (int64, error) {
	bufSize := opts.BufSize
	if bufSize <= 0 {
		bufSize = defaultFlowBufSize
	}
	tracker := progress.NewTracker(opts.TotalBytes)
	last := -1
	report := func() {
		if opts.OnProgress == nil {
			return
		}
		if p := tracker.Progress(); p != last {
			last = p
			opts.OnProgress(p)
		}
	}

	buf := make([]byte, bufSize)
	var copied int64
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			written, werr := dst.Write(buf[:n])
			copied += int64(written)
			if werr != nil {
				return copied, werr
			}
			if written != n {
				return copied, io.ErrShortWrite
			}
			if opts.TotalBytes > 0 {
				tracker.Update(copied)
				report()
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return copied, err
		}
	}
	if opts.TotalBytes <= 0 {
		// an unknown total completes at 100
		tracker = progress.NewTracker(0)
	}
	tracker.Update(copied)
	report()
	return copied, nil
}
