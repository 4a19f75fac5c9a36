package engine

const (
	DefaultNearBottomThreshold = 120
	DefaultTopThreshold        = 50
)

// Viewport is a scroll position report from the view. Units are whatever the
// view measures in: pixels in a browser, lines in a terminal.
type Viewport struct {
	Top    int `json:"top"`
	Height int `json:"height"`
	Client int `json:"client"`
}

// AdjustKind says how the view should move after a merge.
type AdjustKind int

const (
	AdjustNone AdjustKind = iota
	AdjustToBottom
	AdjustPreserve
)

func (k AdjustKind) String() string {
	switch k {
	case AdjustToBottom:
		return "to_bottom"
	case AdjustPreserve:
		return "preserve"
	}
	return "none"
}

// Adjustment is the scroll instruction emitted after a merge. The view owns
// the heights: it records its content height immediately before rendering the
// merged log and compensates against that.
type Adjustment struct {
	Kind AdjustKind
}

// Compensate returns the scroll top that keeps previously visible content in
// place after the content grew from prevHeight to newHeight.
func (a Adjustment) Compensate(top, prevHeight, newHeight int) int {
	if a.Kind != AdjustPreserve {
		return top
	}
	delta := newHeight - prevHeight
	if delta <= 0 {
		return top
	}
	return top + delta
}

// ScrollAnchor decides whether a merge should follow the newest message or
// hold the reader's position.
type ScrollAnchor struct {
	nearBottomThreshold int
	topThreshold        int
	nearBottom          bool
	last                Viewport
	observed            bool
}

// NewScrollAnchor creates an anchor. Non-positive thresholds use defaults.
func NewScrollAnchor(nearBottomThreshold, topThreshold int) *ScrollAnchor {
	if nearBottomThreshold <= 0 {
		nearBottomThreshold = DefaultNearBottomThreshold
	}
	if topThreshold <= 0 {
		topThreshold = DefaultTopThreshold
	}
	return &ScrollAnchor{
		nearBottomThreshold: nearBottomThreshold,
		topThreshold:        topThreshold,
		nearBottom:          true,
	}
}

// Reset forgets the last viewport; a freshly mounted view starts at the bottom.
func (a *ScrollAnchor) Reset() {
	a.nearBottom = true
	a.last = Viewport{}
	a.observed = false
}

// Observe records a scroll report and returns true when the view is close
// enough to the top to load older messages.
func (a *ScrollAnchor) Observe(v Viewport) bool {
	a.last = v
	a.observed = true
	a.nearBottom = v.Height-v.Top-v.Client < a.nearBottomThreshold
	return v.Top < a.topThreshold
}

// NearBottom reports whether the last scroll report was near the bottom.
func (a *ScrollAnchor) NearBottom() bool {
	return a.nearBottom
}

// Last returns the last reported viewport.
func (a *ScrollAnchor) Last() (Viewport, bool) {
	return a.last, a.observed
}

// Decide returns the adjustment for a merge that came from origin.
func (a *ScrollAnchor) Decide(origin Slot, awaitingReply bool) Adjustment {
	if origin == SlotHead {
		return Adjustment{Kind: AdjustPreserve}
	}
	if a.nearBottom || awaitingReply {
		return Adjustment{Kind: AdjustToBottom}
	}
	return Adjustment{Kind: AdjustNone}
}
