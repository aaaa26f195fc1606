package render

import (
	"context"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
	"overlaycast/internal/infrastructure/monitoring"
	"overlaycast/pkg/cache"
)

var _ ports.OverlayGenerator = (*CachedGenerator)(nil)

type overlayKey struct {
	kind   domain.OverlayKind
	text   string
	width  int
	height int
	card   domain.CardOptions
}

// CachedGenerator reuses rendered bitmaps for repeated requests. Bitmaps are
// immutable once returned, so one instance can be pushed any number of times.
type CachedGenerator struct {
	next    ports.OverlayGenerator
	cache   *cache.Cache[overlayKey, *domain.Bitmap]
	metrics *monitoring.PrometheusCollector
}

func NewCachedGenerator(next ports.OverlayGenerator, ttl time.Duration, maxEntries int, metrics *monitoring.PrometheusCollector) *CachedGenerator {
	return &CachedGenerator{
		next:    next,
		cache:   cache.New[overlayKey, *domain.Bitmap](ttl, maxEntries),
		metrics: metrics,
	}
}

func (g *CachedGenerator) GenerateTextOverlay(ctx context.Context, text string, width, height int) (*domain.Bitmap, error) {
	key := overlayKey{kind: domain.OverlayText, text: text, width: width, height: height}
	return g.lookup(ctx, key, func(ctx context.Context) (*domain.Bitmap, error) {
		return g.next.GenerateTextOverlay(ctx, text, width, height)
	})
}

func (g *CachedGenerator) GenerateCardOverlay(ctx context.Context, opts domain.CardOptions) (*domain.Bitmap, error) {
	key := overlayKey{kind: domain.OverlayCard, card: opts.WithDefaults()}
	return g.lookup(ctx, key, func(ctx context.Context) (*domain.Bitmap, error) {
		return g.next.GenerateCardOverlay(ctx, opts)
	})
}

func (g *CachedGenerator) lookup(ctx context.Context, key overlayKey, render func(context.Context) (*domain.Bitmap, error)) (*domain.Bitmap, error) {
	hit := true
	bitmap, err := g.cache.GetOrLoad(ctx, key, func(ctx context.Context) (*domain.Bitmap, error) {
		hit = false
		return render(ctx)
	})
	if g.metrics != nil {
		g.metrics.RecordOverlayCacheLookup(string(key.kind), hit)
	}
	return bitmap, err
}

func (g *CachedGenerator) Stats() cache.Stats {
	return g.cache.Stats()
}

// Close stops background expiry.
func (g *CachedGenerator) Close() {
	g.cache.Stop()
}
