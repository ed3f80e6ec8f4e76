// SPDX-License-Identifier: GPL-2.0-or-later

// Package image holds encoded sprite images and decodes them on first use.
//
// A Lazy image keeps the encoded bytes it was created from and decodes them
// into a privately allocated bitmap the first time the pixels are asked for.
// The codec's own image is never kept, so evicting or releasing a Lazy image
// leaves nothing behind in any decoder side cache.
package image

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chewxy/math32"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// Decodable is what a layer builder needs from an image.
type Decodable interface {
	IsDecoded() bool
	EnsureDecoded() (*Bitmap, error)
}

// Observer receives decode and eviction events of a Lazy image.
// Methods may be called while the image is locked and must not call back
// into it.
type Observer interface {
	Decoded(id uuid.UUID, b *Bitmap, took time.Duration)
	DecodeFailed(id uuid.UUID, err error)
	Evicted(id uuid.UUID, bytes int)
}

type Option func(*Lazy)

// WithScale sets the device scale factor. The default is 1.
func WithScale(s float32) Option {
	return func(l *Lazy) {
		l.scale = s
	}
}

// WithDecoder replaces Decode for this image.
func WithDecoder(d DecodeFunc) Option {
	return func(l *Lazy) {
		l.decode = d
	}
}

func WithObserver(o Observer) Option {
	return func(l *Lazy) {
		l.obs = o
	}
}

// residency is the part of a Lazy image its cleanup may touch.
type residency struct {
	id    uuid.UUID
	obs   Observer
	bytes atomic.Int64
}

func (r *residency) drop() {
	if n := r.bytes.Swap(0); n > 0 && r.obs != nil {
		r.obs.Evicted(r.id, int(n))
	}
}

// Lazy is an image that decodes its encoded data on first access.
type Lazy struct {
	id     uuid.UUID
	scale  float32
	format string
	decode DecodeFunc
	obs    Observer

	group   singleflight.Group
	res     *residency
	cleanup runtime.Cleanup

	mu       sync.Mutex // held for the whole decode
	data     []byte
	released bool
	bitmap   atomic.Pointer[Bitmap]
}

// New creates an undecoded image from encoded data. The data is copied.
// No decoding or format validation happens here.
func New(data []byte, opts ...Option) (*Lazy, error) {
	l := &Lazy{
		id:     uuid.Must(uuid.NewV7()),
		scale:  1,
		decode: Decode,
	}
	for _, o := range opts {
		o(l)
	}
	if len(data) == 0 {
		return nil, errors.Wrap(ErrInvalidInput, "empty image data")
	}
	if !(l.scale > 0) || math32.IsInf(l.scale, 0) {
		return nil, errors.Wrapf(ErrInvalidInput, "scale %v", l.scale)
	}
	if l.decode == nil {
		l.decode = Decode
	}
	l.data = append([]byte(nil), data...)
	l.format = Sniff(l.data)
	l.res = &residency{id: l.id, obs: l.obs}
	l.cleanup = runtime.AddCleanup(l, (*residency).drop, l.res)
	return l, nil
}

func (l *Lazy) ID() uuid.UUID {
	return l.id
}

func (l *Lazy) Scale() float32 {
	return l.scale
}

// Format is the sniffed container name, "" if unknown.
func (l *Lazy) Format() string {
	return l.format
}

// EncodedLen is the size of the encoded data, 0 after Release.
func (l *Lazy) EncodedLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.data)
}

// IsDecoded reports whether a bitmap is present. It never decodes and
// never waits for a decode in progress.
func (l *Lazy) IsDecoded() bool {
	return l.bitmap.Load() != nil
}

// ResidentBytes is the pixel memory currently held.
func (l *Lazy) ResidentBytes() int {
	if b := l.bitmap.Load(); b != nil {
		return b.Bytes()
	}
	return 0
}

// EnsureDecoded returns the bitmap, decoding it first if needed.
// Concurrent callers share a single decode and observe the same bitmap or
// the same error. A failed decode leaves the image undecoded.
func (l *Lazy) EnsureDecoded() (*Bitmap, error) {
	for {
		if b := l.bitmap.Load(); b != nil {
			return b, nil
		}
		v, err, _ := l.group.Do("decode", func() (any, error) {
			l.mu.Lock()
			defer l.mu.Unlock()
			return l.decodeLocked()
		})
		if err != nil {
			return nil, err
		}
		// A call joined after its decode finished may hand out a bitmap
		// that was evicted in between.
		if b := v.(*Bitmap); b == l.bitmap.Load() {
			return b, nil
		}
	}
}

func (l *Lazy) decodeLocked() (*Bitmap, error) {
	if l.released {
		return nil, ErrReleased
	}
	if b := l.bitmap.Load(); b != nil {
		return b, nil
	}
	start := time.Now()
	img, format, err := l.decode(l.data)
	if format == "" {
		format = l.format
	}
	if err != nil {
		derr := decodeError(format, err)
		l.failed(derr)
		return nil, derr
	}
	if r := img.Bounds(); r.Empty() {
		derr := &DecodeError{Format: format, Reason: "zero sized image"}
		l.failed(derr)
		return nil, derr
	}
	b := forceDecode(img, l.scale)
	l.res.bytes.Store(int64(b.Bytes()))
	if l.obs != nil {
		l.obs.Decoded(l.id, b, time.Since(start))
	}
	// published last so lock-free readers only see announced bitmaps
	l.bitmap.Store(b)
	return b, nil
}

func (l *Lazy) failed(err error) {
	if l.obs != nil {
		l.obs.DecodeFailed(l.id, err)
	}
}

// Evict drops the bitmap and keeps the encoded data for a later decode.
// It waits for a decode in progress. Evicting an undecoded image is a no-op.
func (l *Lazy) Evict() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evictLocked()
}

func (l *Lazy) evictLocked() {
	if l.bitmap.Swap(nil) != nil {
		l.res.drop()
	}
}

// Release evicts the bitmap and drops the encoded data. The image cannot
// be decoded afterwards. Release is idempotent.
func (l *Lazy) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.evictLocked()
	l.data = nil
	l.released = true
	l.cleanup.Stop()
}
