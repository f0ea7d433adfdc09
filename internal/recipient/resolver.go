package recipient

import (
	"context"

	"github.com/mr1hm/go-cap-alerts/internal/models"
)

type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve expands target into deliveries. An empty channel means each
// entity's preferred channel. Targets without a usable address are omitted
// and reported in the returned errors. Output order is deterministic and
// duplicate (address, channel) pairs keep their first occurrence.
func (r *Resolver) Resolve(ctx context.Context, target Target, channel models.Channel) ([]Delivery, []error) {
	return r.ResolveAll(ctx, []Target{target}, channel)
}

// ResolveAll resolves targets in order and dedupes across all of them.
func (r *Resolver) ResolveAll(ctx context.Context, targets []Target, channel models.Channel) ([]Delivery, []error) {
	res := &resolution{
		seen: make(map[Delivery]bool),
	}
	for _, t := range targets {
		r.resolve(ctx, t, channel, res, map[string]bool{})
	}
	return res.deliveries, res.errs
}

type resolution struct {
	deliveries []Delivery
	errs       []error
	seen       map[Delivery]bool
}

func (res *resolution) add(d Delivery) {
	key := Delivery{Address: d.Address, Channel: d.Channel}
	if res.seen[key] {
		return
	}
	res.seen[key] = true
	res.deliveries = append(res.deliveries, d)
}

func (res *resolution) fail(t Target, ch models.Channel, reason string, err error) {
	res.errs = append(res.errs, &ResolutionError{Target: t, Channel: ch, Reason: reason, Err: err})
}

// visiting holds the groups on the current expansion path.
func (r *Resolver) resolve(ctx context.Context, t Target, channel models.Channel, res *resolution, visiting map[string]bool) {
	if err := ctx.Err(); err != nil {
		res.fail(t, channel, "", err)
		return
	}

	switch t.Kind {
	case KindAddress:
		ch := t.Channel
		if ch == "" {
			ch = channel
		}
		switch {
		case t.Address == "":
			res.fail(t, ch, "empty address", nil)
		case ch == "":
			res.fail(t, ch, "no channel for raw address", nil)
		default:
			res.add(Delivery{Address: t.Address, Channel: ch})
		}

	case KindEntity:
		ch := channel
		if ch == "" {
			pref, err := r.dir.PreferredChannel(ctx, t.ID)
			if err != nil {
				res.fail(t, "", "", err)
				return
			}
			if pref == "" {
				res.fail(t, "", "no preferred channel", nil)
				return
			}
			ch = pref
		}
		addr, ok, err := r.dir.LookupAddress(ctx, t.ID, ch)
		if err != nil {
			res.fail(t, ch, "", err)
			return
		}
		if !ok || addr == "" {
			res.fail(t, ch, "no address", nil)
			return
		}
		res.add(Delivery{Address: addr, Channel: ch, RecipientID: t.ID})

	case KindGroup:
		if visiting[t.ID] {
			// cycle; members are already being expanded further up
			return
		}
		members, err := r.dir.ExpandGroup(ctx, t.ID)
		if err != nil {
			res.fail(t, channel, "", err)
			return
		}
		visiting[t.ID] = true
		for _, m := range members {
			r.resolve(ctx, m, channel, res, visiting)
		}
		delete(visiting, t.ID)

	default:
		res.fail(t, channel, "unknown target kind", nil)
	}
}
