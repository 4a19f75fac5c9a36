package engine

import (
	"slices"
)

// Slot identifies one of the two logical fetch lanes.
type Slot int

const (
	// SlotTail loads the newest pages, driven by count polling.
	SlotTail Slot = iota
	// SlotHead loads older pages, driven by scrolling to the top.
	SlotHead
)

func (s Slot) String() string {
	if s == SlotHead {
		return "head"
	}
	return "tail"
}

// PageRequest is a page fetch the pager has committed a slot to.
type PageRequest struct {
	Slot    Slot
	Page    uint64
	Offset  uint64
	Size    uint64
	Refresh bool
}

// CountObservation is the outcome of feeding a polled count to the pager.
type CountObservation struct {
	Stale    bool
	Grew     bool
	Previous uint64
}

// Pager decides which page to fetch next. It tracks loaded pages and their
// fill, the monotone message count, and at most one in-flight request per
// slot. A Pager is not safe for concurrent use.
type Pager struct {
	size       uint64
	count      uint64
	countKnown bool
	loaded     map[uint64]int
	// refreshed holds pages re-fetched since the last count observation.
	refreshed  map[uint64]struct{}
	inflight   [2]*PageRequest
	reachedTop bool
	empty      bool
}

// NewPager creates a pager for the given page size.
func NewPager(size int) *Pager {
	if size <= 0 {
		panic("engine: page size must be positive")
	}
	return &Pager{
		size:      uint64(size),
		loaded:    make(map[uint64]int),
		refreshed: make(map[uint64]struct{}),
	}
}

// Size returns the page size.
func (p *Pager) Size() uint64 {
	return p.size
}

// Count returns the highest message count observed.
func (p *Pager) Count() uint64 {
	return p.count
}

// CountKnown reports whether any count has been observed.
func (p *Pager) CountKnown() bool {
	return p.countKnown
}

// ObserveCount records a polled count. A value lower than one already seen is
// a stale read and is ignored.
func (p *Pager) ObserveCount(n uint64) CountObservation {
	obs := CountObservation{Previous: p.count}
	if p.countKnown && n < p.count {
		obs.Stale = true
		return obs
	}
	obs.Grew = !p.countKnown || n > p.count
	p.count = n
	p.countKnown = true
	clear(p.refreshed)
	return obs
}

// LatestPage returns the page holding the newest message.
func (p *Pager) LatestPage() uint64 {
	if p.count == 0 {
		return 0
	}
	return (p.count - 1) / p.size
}

// Busy reports whether slot has a request outstanding.
func (p *Pager) Busy(slot Slot) bool {
	return p.inflight[slot] != nil
}

// InFlight returns the outstanding request for slot.
func (p *Pager) InFlight(slot Slot) (PageRequest, bool) {
	req := p.inflight[slot]
	if req == nil {
		return PageRequest{}, false
	}
	return *req, true
}

// RequestLatest claims the tail slot for the latest page unless that page is
// already loaded or a tail fetch is outstanding.
func (p *Pager) RequestLatest() (PageRequest, bool) {
	if !p.countKnown || p.Busy(SlotTail) {
		return PageRequest{}, false
	}
	page := p.LatestPage()
	if _, ok := p.loaded[page]; ok {
		return PageRequest{}, false
	}
	return p.start(SlotTail, page, false), true
}

// NextTail picks the next tail fetch: the latest page if unloaded, then the
// highest unloaded page between the loaded range and the latest page, then a
// loaded page the count says has grown. Each page is refreshed at most once
// per count observation.
func (p *Pager) NextTail() (PageRequest, bool) {
	if !p.countKnown || p.Busy(SlotTail) {
		return PageRequest{}, false
	}
	if req, ok := p.RequestLatest(); ok {
		return req, true
	}

	latest := p.LatestPage()
	lowest, ok := p.minLoaded()
	if !ok {
		return PageRequest{}, false
	}
	for page := latest; page > lowest; page-- {
		if _, loaded := p.loaded[page]; !loaded && !p.headTargets(page) {
			return p.start(SlotTail, page, false), true
		}
	}

	for page := latest; ; page-- {
		if p.needsRefresh(page) {
			p.refreshed[page] = struct{}{}
			return p.start(SlotTail, page, true), true
		}
		if page == lowest {
			break
		}
	}
	return PageRequest{}, false
}

// RequestOlder claims the head slot for the page before the oldest loaded
// page. It is a no-op at the top of the channel.
func (p *Pager) RequestOlder() (PageRequest, bool) {
	if p.reachedTop || p.Busy(SlotHead) {
		return PageRequest{}, false
	}
	lowest, ok := p.minLoaded()
	if !ok || lowest == 0 {
		return PageRequest{}, false
	}
	return p.start(SlotHead, lowest-1, false), true
}

// Complete records a successful fetch of n message ids for the slot's
// outstanding page and frees the slot.
func (p *Pager) Complete(slot Slot, n int) (PageRequest, bool) {
	req := p.inflight[slot]
	if req == nil {
		return PageRequest{}, false
	}
	p.inflight[slot] = nil

	if slot == SlotHead && n == 0 {
		p.reachedTop = true
		return *req, true
	}
	if req.Page == 0 && n == 0 && p.count == 0 {
		p.empty = true
	} else if n > 0 {
		p.empty = false
	}
	if prev, ok := p.loaded[req.Page]; !ok || n > prev {
		p.loaded[req.Page] = n
	}
	return *req, true
}

// Abandon frees the slot after a fetch gave up, leaving loaded pages as they
// were.
func (p *Pager) Abandon(slot Slot) (PageRequest, bool) {
	req := p.inflight[slot]
	if req == nil {
		return PageRequest{}, false
	}
	p.inflight[slot] = nil
	return *req, true
}

// ReachedTop reports whether no older page can exist.
func (p *Pager) ReachedTop() bool {
	if p.reachedTop {
		return true
	}
	lowest, ok := p.minLoaded()
	return ok && lowest == 0
}

// Empty reports whether the channel had no messages when page 0 was loaded.
func (p *Pager) Empty() bool {
	return p.empty
}

// Loaded reports whether page has been merged.
func (p *Pager) Loaded(page uint64) bool {
	_, ok := p.loaded[page]
	return ok
}

// Fill returns how many ids page held when last loaded.
func (p *Pager) Fill(page uint64) int {
	return p.loaded[page]
}

// LoadedPages returns the loaded pages in ascending order.
func (p *Pager) LoadedPages() []uint64 {
	pages := make([]uint64, 0, len(p.loaded))
	for page := range p.loaded {
		pages = append(pages, page)
	}
	slices.Sort(pages)
	return pages
}

func (p *Pager) start(slot Slot, page uint64, refresh bool) PageRequest {
	req := &PageRequest{
		Slot:    slot,
		Page:    page,
		Offset:  page * p.size,
		Size:    p.size,
		Refresh: refresh,
	}
	p.inflight[slot] = req
	return *req
}

func (p *Pager) minLoaded() (uint64, bool) {
	if len(p.loaded) == 0 {
		return 0, false
	}
	first := true
	var lowest uint64
	for page := range p.loaded {
		if first || page < lowest {
			lowest = page
			first = false
		}
	}
	return lowest, true
}

func (p *Pager) headTargets(page uint64) bool {
	req := p.inflight[SlotHead]
	return req != nil && req.Page == page
}

// needsRefresh reports whether page is loaded, under-filled, and the count
// says more messages fall inside its window.
func (p *Pager) needsRefresh(page uint64) bool {
	fill, ok := p.loaded[page]
	if !ok || uint64(fill) >= p.size {
		return false
	}
	if _, done := p.refreshed[page]; done {
		return false
	}
	return p.count > page*p.size+uint64(fill)
}
