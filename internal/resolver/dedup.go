package resolver

import (
	"context"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"
)

// sharedCallTimeout bounds a shared call that no longer follows any caller's cancellation.
const sharedCallTimeout = 2 * time.Minute

// Deduplicated collapses concurrent resolutions of the same link into one upstream call.
type Deduplicated struct {
	next  Resolver
	group singleflight.Group
}

func NewDeduplicated(next Resolver) *Deduplicated {
	return &Deduplicated{next: next}
}

// Resolve joins the in-flight call for link, if any. The shared call keeps the first
// caller's values but not its cancellation; each caller stops waiting when its own ctx is done.
func (d *Deduplicated) Resolve(ctx context.Context, link string) (Result, error) {
	shared := context.WithoutCancel(ctx)
	ch := d.group.DoChan(link, func() (any, error) {
		cctx, cancel := context.WithTimeout(shared, sharedCallTimeout)
		defer cancel()
		return d.next.Resolve(cctx, link)
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Result{}, r.Err
		}
		res := r.Val.(Result)
		res.Images = slices.Clone(res.Images)
		return res, nil
	}
}
