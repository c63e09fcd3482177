package services

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"envelopes/internal/cache"
	"envelopes/internal/core"
)

// OverviewCache fronts MonthOverview. Concurrent misses for the same month
// share one computation. A nil *OverviewCache disables caching.
type OverviewCache struct {
	store cache.Cache[core.MonthOverview]
	group singleflight.Group
}

func NewOverviewCache(store cache.Cache[core.MonthOverview]) *OverviewCache {
	return &OverviewCache{store: store}
}

func monthKey(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

func (o *OverviewCache) Load(ctx context.Context, year, month int, load func(context.Context) (core.MonthOverview, error)) (core.MonthOverview, error) {
	if o == nil {
		return load(ctx)
	}
	key := monthKey(year, month)

	if v, ok, err := o.store.Get(ctx, key); err != nil {
		slog.WarnContext(ctx, "Overview cache read failed", "key", key, "error", err)
	} else if ok {
		return v, nil
	}

	v, err, _ := o.group.Do(key, func() (any, error) {
		ov, err := load(ctx)
		if err != nil {
			return core.MonthOverview{}, err
		}
		if err := o.store.Set(ctx, key, ov); err != nil {
			slog.WarnContext(ctx, "Overview cache write failed", "key", key, "error", err)
		}
		return ov, nil
	})
	if err != nil {
		return core.MonthOverview{}, err
	}
	return v.(core.MonthOverview), nil
}

// InvalidateDates drops the months containing the given dates.
func (o *OverviewCache) InvalidateDates(ctx context.Context, dates ...core.Date) {
	if o == nil || len(dates) == 0 {
		return
	}
	keys := make([]string, 0, len(dates))
	for _, d := range dates {
		keys = append(keys, monthKey(d.Year(), int(d.Month())))
	}
	if err := o.store.Delete(ctx, keys...); err != nil {
		slog.WarnContext(ctx, "Overview cache invalidation failed", "keys", keys, "error", err)
	}
}

// InvalidateAll is used after budget edits, which change every month's view.
func (o *OverviewCache) InvalidateAll(ctx context.Context) {
	if o == nil {
		return
	}
	if err := o.store.Purge(ctx); err != nil {
		slog.WarnContext(ctx, "Overview cache purge failed", "error", err)
	}
}
