// SPDX-License-Identifier: GPL-2.0-or-later

// Package imagecache keeps named sprite images and bounds the memory their
// decoded bitmaps use.
//
// Encoded data always stays in the cache. When the decoded bytes exceed the
// budget, bitmaps of the least recently used images are evicted; those
// images decode again on their next use.
package imagecache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"svgaplayer/conlog"
	"svgaplayer/image"
	"svgaplayer/metrics"
)

var ErrNotFound = errors.New("image not found")

type entry struct {
	key  string
	img  *image.Lazy
	elem *list.Element
}

type Cache struct {
	budget  int64
	metrics *metrics.Registry
	log     zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List // front is most recently used
}

type Option func(*Cache)

// WithBudget bounds the decoded bytes kept by the cache. A budget <= 0
// disables eviction.
func WithBudget(bytes int64) Option {
	return func(c *Cache) {
		c.budget = bytes
	}
}

func WithMetrics(r *metrics.Registry) Option {
	return func(c *Cache) {
		c.metrics = r
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) {
		c.log = l
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{
		log:     conlog.Logger(),
		entries: make(map[string]*entry),
		lru:     list.New(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Add stores encoded data under key. An image already stored under key is
// released.
func (c *Cache) Add(key string, data []byte, scale float32) error {
	img, err := image.New(data, image.WithScale(scale), image.WithObserver(&observer{metrics: c.metrics, log: c.log, key: key}))
	if err != nil {
		return errors.Wrapf(err, "add %q", key)
	}

	c.mu.Lock()
	old := c.entries[key]
	if old != nil {
		c.lru.Remove(old.elem)
	}
	e := &entry{key: key, img: img}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e
	c.mu.Unlock()

	if old != nil {
		old.img.Release()
	}
	c.log.Debug().Str("key", key).Str("image_id", img.ID().String()).
		Str("format", img.Format()).Int("bytes", len(data)).Msg("image added")
	return nil
}

// Image returns the image stored under key without decoding it or
// changing its recency.
func (c *Cache) Image(key string) (*image.Lazy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.img, true
}

// Bitmap decodes the image stored under key if needed and marks it most
// recently used. Afterwards other images are evicted until the budget
// holds again.
func (c *Cache) Bitmap(key string) (*image.Bitmap, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		c.lru.MoveToFront(e.elem)
	}
	c.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%q", key)
	}

	b, err := e.img.EnsureDecoded()
	if err != nil {
		return nil, errors.Wrapf(err, "image %q", key)
	}
	c.enforce(e.img)
	return b, nil
}

// enforce evicts least recently used bitmaps, never keep, while the
// decoded bytes exceed the budget.
func (c *Cache) enforce(keep *image.Lazy) {
	if c.budget <= 0 {
		return
	}
	var victims []*entry
	c.mu.Lock()
	var resident int64
	for _, e := range c.entries {
		resident += int64(e.img.ResidentBytes())
	}
	for el := c.lru.Back(); el != nil && resident > c.budget; el = el.Prev() {
		e := el.Value.(*entry)
		n := e.img.ResidentBytes()
		if e.img == keep || n == 0 {
			continue
		}
		victims = append(victims, e)
		resident -= int64(n)
	}
	c.mu.Unlock()

	for _, e := range victims {
		e.img.Evict()
	}
}

// Evict drops the bitmap of key. Unknown keys are ignored.
func (c *Cache) Evict(key string) {
	if img, ok := c.Image(key); ok {
		img.Evict()
	}
}

// EvictAll drops every bitmap, for example under memory pressure.
func (c *Cache) EvictAll() {
	c.mu.Lock()
	imgs := make([]*image.Lazy, 0, len(c.entries))
	for _, e := range c.entries {
		imgs = append(imgs, e.img)
	}
	c.mu.Unlock()
	for _, img := range imgs {
		img.Evict()
	}
}

// Remove releases the image stored under key and forgets it.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
		c.lru.Remove(e.elem)
	}
	c.mu.Unlock()
	if ok {
		e.img.Release()
	}
}

// Keys returns the stored keys, most recently used first.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.lru.Len())
	for el := c.lru.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type Stats struct {
	Entries       int
	Decoded       int
	EncodedBytes  int64
	ResidentBytes int64
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Entries: len(c.entries)}
	for _, e := range c.entries {
		if n := e.img.ResidentBytes(); n > 0 {
			s.Decoded++
			s.ResidentBytes += int64(n)
		}
		s.EncodedBytes += int64(e.img.EncodedLen())
	}
	return s
}

// observer forwards image events of one key to the log and the metrics.
// It must not point back to the cache, an image's cleanup keeps it alive.
type observer struct {
	metrics *metrics.Registry
	log     zerolog.Logger
	key     string
}

func (o *observer) Decoded(id uuid.UUID, b *image.Bitmap, took time.Duration) {
	ctx := context.Background()
	o.metrics.Inc(ctx, metrics.Decodes, nil)
	o.metrics.Add(ctx, metrics.ResidentBytes, nil, int64(b.Bytes()))
	o.log.Debug().Str("key", o.key).Str("image_id", id.String()).
		Int("width", b.Width).Int("height", b.Height).Int("bytes", b.Bytes()).
		Dur("took", took).Msg("image decoded")
}

func (o *observer) DecodeFailed(id uuid.UUID, err error) {
	o.metrics.Inc(context.Background(), metrics.DecodeFailures, nil)
	o.log.Debug().Str("key", o.key).Str("image_id", id.String()).Err(err).Msg("image decode failed")
}

func (o *observer) Evicted(id uuid.UUID, n int) {
	ctx := context.Background()
	o.metrics.Inc(ctx, metrics.Evictions, nil)
	o.metrics.Add(ctx, metrics.ResidentBytes, nil, -int64(n))
	o.log.Debug().Str("key", o.key).Str("image_id", id.String()).Int("bytes", n).Msg("image memory freed")
}

// Handle returns key as an image.Decodable whose decodes go through the
// cache, so they count as uses and keep the budget.
func (c *Cache) Handle(key string) image.Decodable {
	return handle{c: c, key: key}
}

type handle struct {
	c   *Cache
	key string
}

func (h handle) IsDecoded() bool {
	img, ok := h.c.Image(h.key)
	return ok && img.IsDecoded()
}

func (h handle) EnsureDecoded() (*image.Bitmap, error) {
	return h.c.Bitmap(h.key)
}
