// Package compress provides gzip and zstd transform stages.
//
//	                    +-----------+
//	[]byte chunks ----->| Compress  |----> compressed []byte chunks
//	                    +-----------+
//
//	                    +------------+
//	compressed ------->| Decompress |----> []byte chunks
//	                    +------------+
//
// A chunk marked Flush makes an encoder flush, so everything written so far
// can be decoded by the peer. Closing the writable side writes the trailer.
package compress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/artificial-james/tombflow"
)

// Format names a compression format.
type Format string

const (
	Gzip Format = "gzip"
	Zstd Format = "zstd"
)

// ParseFormat accepts "gzip"/"gz" and "zstd"/"zst".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "gzip", "gz":
		return Gzip, nil
	case "zstd", "zst":
		return Zstd, nil
	}
	return "", fmt.Errorf("unknown compression format %q", s)
}

var errNotBytes = errors.New("compress: chunk payload is not bytes")

type flushWriter interface {
	io.WriteCloser
	Flush() error
}

// Encoder compresses byte chunks.
type Encoder struct {
	format Format
	buf    bytes.Buffer
	w      flushWriter
}

// NewEncoder returns an encoder for format.
func NewEncoder(format Format) (*Encoder, error) {
	e := &Encoder{format: format}
	switch format {
	case Gzip:
		e.w = gzip.NewWriter(&e.buf)
	case Zstd:
		zw, err := zstd.NewWriter(&e.buf, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		e.w = zw
	default:
		return nil, fmt.Errorf("unknown compression format %q", format)
	}
	return e, nil
}

// NewCompress starts a compressing TransformStream.
func NewCompress(ctx context.Context, format Format, opts ...tombflow.Option) (*tombflow.TransformStream, error) {
	e, err := NewEncoder(format)
	if err != nil {
		return nil, err
	}
	return tombflow.NewTransformStream(ctx, e, opts...), nil
}

func (e *Encoder) Transform(_ context.Context, chunk tombflow.Chunk, c *tombflow.TransformController) error {
	p, ok := chunk.Bytes()
	if !ok {
		return errNotBytes
	}
	if _, err := e.w.Write(p); err != nil {
		return fmt.Errorf("%s: %w", e.format, err)
	}
	if chunk.Flush {
		if err := e.w.Flush(); err != nil {
			return fmt.Errorf("%s: %w", e.format, err)
		}
	}
	return e.emit(c, chunk.Flush)
}

func (e *Encoder) Flush(_ context.Context, c *tombflow.TransformController) error {
	if err := e.w.Close(); err != nil {
		return fmt.Errorf("%s: %w", e.format, err)
	}
	return e.emit(c, true)
}

func (e *Encoder) emit(c *tombflow.TransformController, flush bool) error {
	if e.buf.Len() == 0 {
		return nil
	}
	out := append([]byte(nil), e.buf.Bytes()...)
	e.buf.Reset()
	return c.Enqueue(tombflow.Chunk{Payload: out, Flush: flush})
}

// Decoder decompresses byte chunks. Input is fed to the decompressor
// through a pipe; output is emitted as soon as it is available.
type Decoder struct {
	format Format
	pw     *io.PipeWriter
	pr     *io.PipeReader
	once   sync.Once
	done   chan struct{}

	mu  sync.Mutex
	out bytes.Buffer
	err error
}

// NewDecoder returns a decoder for format.
func NewDecoder(format Format) (*Decoder, error) {
	if format != Gzip && format != Zstd {
		return nil, fmt.Errorf("unknown compression format %q", format)
	}
	pr, pw := io.Pipe()
	return &Decoder{format: format, pr: pr, pw: pw, done: make(chan struct{})}, nil
}

// NewDecompress starts a decompressing TransformStream.
func NewDecompress(ctx context.Context, format Format, opts ...tombflow.Option) (*tombflow.TransformStream, error) {
	d, err := NewDecoder(format)
	if err != nil {
		return nil, err
	}
	return tombflow.NewTransformStream(ctx, d, opts...), nil
}

func (d *Decoder) start(ctx context.Context) {
	d.once.Do(func() {
		stop := context.AfterFunc(ctx, func() { d.pr.CloseWithError(ctx.Err()) })
		go func() {
			defer close(d.done)
			defer stop()
			err := d.decode()
			d.mu.Lock()
			d.err = err
			d.mu.Unlock()
			d.pr.CloseWithError(err)
		}()
	})
}

func (d *Decoder) decode() error {
	var r io.Reader
	switch d.format {
	case Gzip:
		gr, err := gzip.NewReader(d.pr)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("gzip: %w", err)
		}
		defer gr.Close()
		r = gr
	case Zstd:
		zr, err := zstd.NewReader(d.pr, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			d.mu.Lock()
			d.out.Write(buf[:n])
			d.mu.Unlock()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", d.format, err)
		}
	}
}

func (d *Decoder) Transform(ctx context.Context, chunk tombflow.Chunk, c *tombflow.TransformController) error {
	p, ok := chunk.Bytes()
	if !ok {
		return errNotBytes
	}
	d.start(ctx)
	if _, err := d.pw.Write(p); err != nil {
		if derr := d.failure(); derr != nil {
			return derr
		}
		return err
	}
	return d.emit(c, chunk.Flush)
}

func (d *Decoder) Flush(ctx context.Context, c *tombflow.TransformController) error {
	d.start(ctx)
	d.pw.Close()
	select {
	case <-d.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := d.failure(); err != nil {
		return err
	}
	return d.emit(c, true)
}

func (d *Decoder) failure() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Decoder) emit(c *tombflow.TransformController, flush bool) error {
	d.mu.Lock()
	if d.out.Len() == 0 {
		d.mu.Unlock()
		return nil
	}
	out := append([]byte(nil), d.out.Bytes()...)
	d.out.Reset()
	d.mu.Unlock()
	return c.Enqueue(tombflow.Chunk{Payload: out, Flush: flush})
}
