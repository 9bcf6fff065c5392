package main

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	ffms "github.com/GreatValueCreamSoda/goffms2"
	"github.com/GreatValueCreamSoda/gopixfmts"
	vqmt "github.com/GreatValueCreamSoda/govqmt"
	"github.com/sirupsen/logrus"
)

// prefetchDepth is how many decoded luma planes a decoder keeps ahead of the
// engine.
const prefetchDepth = 4

// lumaPlane is one decoded frame's first plane.
type lumaPlane struct {
	index  int
	data   []byte
	stride int
	err    error
}

// decoder feeds one input file to the engine through the input callback.
// Frames are decoded ahead on a goroutine of its own.
type decoder struct {
	path   string
	start  int
	limit  int
	width  int
	height int
	depth  int
	log    logrus.FieldLogger

	videoMu sync.Mutex
	video   *ffms.VideoSource

	mu      sync.Mutex
	pool    BlockingPool[*lumaPlane]
	ready   <-chan *lumaPlane
	pending *lumaPlane
}

func openDecoder(path string, rng *rangeFlag, log logrus.FieldLogger) (
	*decoder, error) {
	log = log.WithField("file", path)
	log.Debug("indexing")

	indexer, _, err := ffms.CreateIndexer(path)
	if err != nil {
		return nil, err
	}
	index, _, err := indexer.DoIndexing(ffms.IEHAbort)
	if err != nil {
		return nil, err
	}
	track, _, err := index.GetFirstTrackOfType(ffms.TypeVideo)
	if err != nil {
		return nil, err
	}
	video, _, err := ffms.CreateVideoSource(path, index, track,
		runtime.NumCPU()/2, ffms.SeekNormal)
	if err != nil {
		return nil, err
	}
	props, err := video.GetVideoProperties()
	if err != nil {
		return nil, err
	}

	first, _, err := video.GetFrame(0)
	if err != nil {
		return nil, err
	}
	video.SetOutputFormatV2([]int{first.EncodedPixelFormat},
		first.EncodedWidth, first.EncodedHeight, ffms.ResizerBicubic)
	first, _, err = video.GetFrame(0)
	if err != nil {
		return nil, err
	}

	desc, err := gopixfmts.PixFmtDescGet(gopixfmts.PixelFormat(
		first.ConvertedPixelFormat))
	if err != nil {
		return nil, fmt.Errorf("%s: pixel format %d: %w", path,
			first.ConvertedPixelFormat, err)
	}
	luma, err := desc.Component(0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	d := &decoder{
		path:   path,
		start:  rng.start,
		limit:  rng.frames(props.NumFrames),
		width:  int(first.ScaledWidth),
		height: int(first.ScaledHeight),
		depth:  int(luma.Depth),
		log:    log,
		video:  video,
		pool:   NewBlockingPool[*lumaPlane](prefetchDepth),
	}
	for range prefetchDepth {
		d.pool.Put(&lumaPlane{})
	}
	log.WithFields(logrus.Fields{
		"frames": d.limit, "w": d.width, "h": d.height,
		"pix_fmt": desc.Name(), "depth": d.depth,
	}).Info("input opened")
	return d, nil
}

// fileOptions describes the decoded stream to the engine.
func (d *decoder) fileOptions() vqmt.FileOptions {
	format := "gray"
	if d.depth > 8 {
		format = "gray16le"
	}
	return vqmt.FileOptions{
		Mode: vqmt.FileModeCallback,
		Props: map[string]any{
			"frames": d.limit,
			"fmt":    format,
			"w":      d.width,
			"h":      d.height,
		},
	}
}

func (d *decoder) decode(i int, dst *lumaPlane) {
	d.videoMu.Lock()
	defer d.videoMu.Unlock()
	src, _, err := d.video.GetFrame(d.start + i)
	dst.index, dst.err = i, err
	if err != nil {
		return
	}
	dst.data = append(dst.data[:0], src.Data[0]...)
	dst.stride = int(src.Linesize[0])
}

// prefetch decodes frames in order until the limit, the first error or ctx
// is done.
func (d *decoder) prefetch(ctx context.Context) {
	out := make(chan *lumaPlane)
	d.ready = withContext(ctx, out)

	go func() {
		defer close(out)
		for i := 0; i < d.limit; i++ {
			p, err := d.pool.GetContext(ctx)
			if err != nil {
				return
			}
			d.decode(i, p)
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
			if p.err != nil {
				return
			}
		}
	}()
}

// fill answers one engine request for frame req.Frame.
func (d *decoder) fill(engine *vqmt.Engine, req vqmt.InputRequest) vqmt.InputResult {
	if req.Frame >= d.limit {
		return vqmt.InputEOF
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.next(req.Frame)
	if p == nil {
		// Out of order request: decode it directly.
		var direct lumaPlane
		d.decode(req.Frame, &direct)
		p = &direct
	} else {
		defer d.pool.Put(p)
	}

	if p.err != nil {
		d.log.WithError(p.err).WithField("frame", req.Frame).Error("decode failed")
		return vqmt.InputError
	}
	engine.CopyPlane(p.data, p.stride, req.Data, 0)
	return vqmt.InputOK
}

// next returns the prefetched plane for frame i, dropping older ones. It
// returns nil when the queue has already moved past i or has stopped.
func (d *decoder) next(i int) *lumaPlane {
	if p := d.pending; p != nil {
		if p.index > i {
			return nil
		}
		d.pending = nil
		if p.index == i {
			return p
		}
		d.pool.Put(p)
	}
	if d.ready == nil {
		return nil
	}
	for p := range d.ready {
		switch {
		case p.index == i:
			return p
		case p.index > i:
			d.pending = p
			return nil
		}
		d.pool.Put(p)
	}
	return nil
}

// decoders routes input requests to the decoder of the requested file.
type decoders map[string]*decoder

func (ds decoders) inputFunc(engine *vqmt.Engine) vqmt.InputFunc {
	return func(req vqmt.InputRequest) vqmt.InputResult {
		d, ok := ds[req.File]
		if !ok {
			return vqmt.InputError
		}
		return d.fill(engine, req)
	}
}
