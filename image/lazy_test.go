// SPDX-License-Identifier: GPL-2.0-or-later

package image

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func makePNG(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x * 17) ^ (y * 31)),
				G: uint8((x * 43) + (y * 13)),
				B: uint8((x * 7) ^ (y * 11)),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type countingDecoder struct {
	calls atomic.Int32
}

func (c *countingDecoder) decode(data []byte) (image.Image, string, error) {
	c.calls.Add(1)
	time.Sleep(10 * time.Millisecond)
	return Decode(data)
}

type recorder struct {
	mu      sync.Mutex
	decoded int
	failed  int
	evicted int
}

func (r *recorder) Decoded(_ uuid.UUID, b *Bitmap, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoded += b.Bytes()
}

func (r *recorder) DecodeFailed(uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
}

func (r *recorder) Evicted(_ uuid.UUID, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted += n
}

func (r *recorder) evictedBytes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evicted
}

func TestNewValidation(t *testing.T) {
	data := makePNG(t, 4, 4)

	_, err := New(nil, WithScale(2))
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = New([]byte{}, WithScale(2))
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = New(data, WithScale(0))
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = New(data, WithScale(-1))
	require.ErrorIs(t, err, ErrInvalidInput)

	l, err := New(data, WithScale(2))
	require.NoError(t, err)
	require.False(t, l.IsDecoded())
	require.Equal(t, float32(2), l.Scale())
	require.Equal(t, "png", l.Format())
}

func TestDefaultScale(t *testing.T) {
	l, err := New(makePNG(t, 3, 3))
	require.NoError(t, err)
	require.Equal(t, float32(1), l.Scale())
}

func TestNewCopiesData(t *testing.T) {
	data := makePNG(t, 2, 2)
	l, err := New(data)
	require.NoError(t, err)
	for i := range data {
		data[i] = 0
	}
	_, err = l.EnsureDecoded()
	require.NoError(t, err)
}

func TestLaziness(t *testing.T) {
	dec := &countingDecoder{}
	l, err := New(makePNG(t, 256, 256), WithDecoder(dec.decode))
	require.NoError(t, err)
	require.False(t, l.IsDecoded())
	require.Zero(t, dec.calls.Load())
	require.Zero(t, l.ResidentBytes())
}

func TestEnsureDecodedIdempotent(t *testing.T) {
	dec := &countingDecoder{}
	l, err := New(makePNG(t, 16, 8), WithScale(2), WithDecoder(dec.decode))
	require.NoError(t, err)

	first, err := l.EnsureDecoded()
	require.NoError(t, err)
	require.Equal(t, 16, first.Width)
	require.Equal(t, 8, first.Height)
	require.Len(t, first.Pix, 16*8*4)
	w, h := first.Size()
	require.Equal(t, float32(8), w)
	require.Equal(t, float32(4), h)

	for i := 0; i < 5; i++ {
		b, err := l.EnsureDecoded()
		require.NoError(t, err)
		require.Same(t, first, b)
	}
	require.True(t, l.IsDecoded())
	require.Equal(t, int32(1), dec.calls.Load())
}

func TestEvictRoundTrip(t *testing.T) {
	dec := &countingDecoder{}
	l, err := New(makePNG(t, 10, 7), WithDecoder(dec.decode))
	require.NoError(t, err)

	first, err := l.EnsureDecoded()
	require.NoError(t, err)
	want := append([]byte(nil), first.Pix...)

	l.Evict()
	require.False(t, l.IsDecoded())
	require.Zero(t, l.ResidentBytes())
	require.Equal(t, len(makePNG(t, 10, 7)), l.EncodedLen())

	again, err := l.EnsureDecoded()
	require.NoError(t, err)
	require.NotSame(t, first, again)
	require.Equal(t, first.Width, again.Width)
	require.Equal(t, first.Height, again.Height)
	require.Equal(t, want, again.Pix)
	require.Equal(t, int32(2), dec.calls.Load())
}

func TestEvictNoop(t *testing.T) {
	l, err := New(makePNG(t, 2, 2))
	require.NoError(t, err)

	l.Evict()
	require.False(t, l.IsDecoded())

	_, err = l.EnsureDecoded()
	require.NoError(t, err)
	l.Evict()
	l.Evict()
	require.False(t, l.IsDecoded())
}

func TestConcurrentDecodeConvergence(t *testing.T) {
	const k = 32
	dec := &countingDecoder{}
	l, err := New(makePNG(t, 64, 64), WithDecoder(dec.decode))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]*Bitmap, k)
		errs    = make([]error, k)
	)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = l.EnsureDecoded()
		}(i)
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), dec.calls.Load())
	for i := 0; i < k; i++ {
		require.NoError(t, errs[i])
		require.Same(t, results[0], results[i])
	}
}

func TestConcurrentDecodeFailureShared(t *testing.T) {
	const k = 16
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	fail := func([]byte) (image.Image, string, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return nil, "", errors.New("truncated")
	}
	l, err := New([]byte("garbage"), WithDecoder(fail))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, k)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = l.EnsureDecoded()
	}()
	<-entered
	for i := 1; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.EnsureDecoded()
		}(i)
	}
	// give the waiters time to join the decode in flight
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.ErrorIs(t, err, ErrDecode)
	}
	require.False(t, l.IsDecoded())
}

func TestEvictWaitsForDecode(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	slow := func(data []byte) (image.Image, string, error) {
		close(entered)
		<-release
		return Decode(data)
	}
	l, err := New(makePNG(t, 4, 4), WithDecoder(slow))
	require.NoError(t, err)

	got := make(chan *Bitmap)
	go func() {
		b, _ := l.EnsureDecoded()
		got <- b
	}()
	<-entered

	var evicted atomic.Bool
	done := make(chan struct{})
	go func() {
		l.Evict()
		evicted.Store(true)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	require.False(t, evicted.Load())
	require.False(t, l.IsDecoded())

	close(release)
	b := <-got
	<-done
	require.NotNil(t, b)
	require.Len(t, b.Pix, 4*4*4)
	require.False(t, l.IsDecoded())
}

// generations numbers decoded bitmaps and remembers how many of them an
// eviction has freed.
type generations struct {
	mu      sync.Mutex
	decoded map[*Bitmap]int
	freed   int
}

func (g *generations) Decoded(_ uuid.UUID, b *Bitmap, _ time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.decoded[b] = len(g.decoded)
}

func (g *generations) DecodeFailed(uuid.UUID, error) {}

func (g *generations) Evicted(uuid.UUID, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.freed = len(g.decoded)
}

func (g *generations) state(b *Bitmap) (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.decoded[b]
	if !ok {
		n = -1
	}
	return n, g.freed
}

func TestEnsureDecodedAfterEvictNeverReturnsFreedBitmap(t *testing.T) {
	gen := &generations{decoded: make(map[*Bitmap]int)}
	l, err := New(makePNG(t, 2, 2), WithObserver(gen))
	require.NoError(t, err)

	stop := make(chan struct{})
	var evictor sync.WaitGroup
	evictor.Add(1)
	go func() {
		defer evictor.Done()
		for {
			select {
			case <-stop:
				return
			default:
				l.Evict()
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, freedBefore := gen.state(nil)
				b, err := l.EnsureDecoded()
				if err != nil {
					t.Error(err)
					return
				}
				n, _ := gen.state(b)
				if n < freedBefore {
					t.Errorf("got bitmap %d, bitmaps below %d were already freed", n, freedBefore)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(stop)
	evictor.Wait()
}

func TestCorruptInput(t *testing.T) {
	rec := &recorder{}
	l, err := New([]byte("this is not an image"), WithObserver(rec))
	require.NoError(t, err)
	require.Equal(t, "", l.Format())

	b, err := l.EnsureDecoded()
	require.Nil(t, b)
	require.ErrorIs(t, err, ErrDecode)

	var derr *DecodeError
	require.True(t, errors.As(err, &derr))
	require.Equal(t, "unsupported container", derr.Reason)
	require.False(t, l.IsDecoded())
	require.Equal(t, 1, rec.failed)

	// still retryable
	_, err = l.EnsureDecoded()
	require.ErrorIs(t, err, ErrDecode)
	require.Equal(t, 2, rec.failed)
}

func TestTruncatedPNG(t *testing.T) {
	data := makePNG(t, 32, 32)
	l, err := New(data[:len(data)/2])
	require.NoError(t, err)
	require.Equal(t, "png", l.Format())

	_, err = l.EnsureDecoded()
	var derr *DecodeError
	require.True(t, errors.As(err, &derr))
	require.Equal(t, "png", derr.Format)
	require.Equal(t, "corrupt data", derr.Reason)
}

func TestTooLarge(t *testing.T) {
	old := MaxPixels()
	SetMaxPixels(100)
	defer SetMaxPixels(old)

	l, err := New(makePNG(t, 20, 20))
	require.NoError(t, err)
	_, err = l.EnsureDecoded()
	var derr *DecodeError
	require.True(t, errors.As(err, &derr))
	require.Equal(t, "pixel buffer too large", derr.Reason)
}

func TestRelease(t *testing.T) {
	rec := &recorder{}
	l, err := New(makePNG(t, 5, 5), WithObserver(rec))
	require.NoError(t, err)
	b, err := l.EnsureDecoded()
	require.NoError(t, err)
	require.Equal(t, b.Bytes(), rec.decoded)

	l.Release()
	require.False(t, l.IsDecoded())
	require.Zero(t, l.EncodedLen())
	require.Equal(t, b.Bytes(), rec.evictedBytes())

	_, err = l.EnsureDecoded()
	require.ErrorIs(t, err, ErrReleased)

	l.Release()
	l.Evict()
	require.Equal(t, b.Bytes(), rec.evictedBytes())
}

func decodeAndDrop(t *testing.T, rec *recorder) int {
	l, err := New(makePNG(t, 8, 8), WithObserver(rec))
	require.NoError(t, err)
	b, err := l.EnsureDecoded()
	require.NoError(t, err)
	return b.Bytes()
}

func TestCollectedImageDropsResidency(t *testing.T) {
	rec := &recorder{}
	n := decodeAndDrop(t, rec)
	require.Eventually(t, func() bool {
		runtime.GC()
		return rec.evictedBytes() == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestForceDecodeOwnsBuffer(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	src.Pix[0] = 42
	dec := func([]byte) (image.Image, string, error) {
		return src, "raw", nil
	}
	l, err := New([]byte{1}, WithDecoder(dec))
	require.NoError(t, err)
	b, err := l.EnsureDecoded()
	require.NoError(t, err)
	require.Equal(t, uint8(42), b.Pix[0])

	src.Pix[0] = 7
	require.Equal(t, uint8(42), b.Pix[0])
}

func TestZeroSizedImage(t *testing.T) {
	dec := func([]byte) (image.Image, string, error) {
		return image.NewRGBA(image.Rectangle{}), "raw", nil
	}
	l, err := New([]byte{1}, WithDecoder(dec))
	require.NoError(t, err)
	_, err = l.EnsureDecoded()
	require.ErrorIs(t, err, ErrDecode)
	require.False(t, l.IsDecoded())
}
