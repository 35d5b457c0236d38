package relay

import (
	"slices"
	"sync/atomic"
)

// AdminSet is the administrator identity set. It is swapped whole on config reload.
type AdminSet struct {
	ids atomic.Pointer[[]int64]
}

func NewAdminSet(ids []int64) *AdminSet {
	a := &AdminSet{}
	a.Replace(ids)
	return a
}

func (a *AdminSet) Replace(ids []int64) {
	cp := slices.Clone(ids)
	slices.Sort(cp)
	cp = slices.Compact(cp)
	a.ids.Store(&cp)
}

func (a *AdminSet) Contains(id int64) bool {
	if a == nil {
		return false
	}
	p := a.ids.Load()
	if p == nil {
		return false
	}
	_, ok := slices.BinarySearch(*p, id)
	return ok
}

// List returns a copy of the admin ids in ascending order.
func (a *AdminSet) List() []int64 {
	if a == nil {
		return nil
	}
	p := a.ids.Load()
	if p == nil {
		return nil
	}
	return slices.Clone(*p)
}
