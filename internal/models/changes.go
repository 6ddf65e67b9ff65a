package models

// ChangeType classifies a position change between two snapshots.
type ChangeType string

const (
	ChangeNew       ChangeType = "New"
	ChangeRemoved   ChangeType = "Removed"
	ChangeIncreased ChangeType = "Increased"
	ChangeDecreased ChangeType = "Decreased"
)

// ChangeRecord describes how one instrument moved between a baseline and
// the current snapshot. Counts are in shares; CountDeltaLots is in lots.
type ChangeRecord struct {
	Code               string
	Name               string
	Type               ChangeType
	CountDeltaLots     int64
	WeightDeltaPercent float64
	PrevCount          int64
	PrevWeight         float64
	CurrentCount       int64
	CurrentWeight      float64
	// ShowWeight is set on major records whose weight move is large enough
	// to be worth annotating. It never affects inclusion.
	ShowWeight bool
}

// CountDelta returns the raw share delta.
func (c ChangeRecord) CountDelta() int64 { return c.CurrentCount - c.PrevCount }

// ChangeSet is the output of one classification.
type ChangeSet struct {
	Major    []ChangeRecord
	Detailed []ChangeRecord
}

// Empty reports whether neither set has records.
func (cs ChangeSet) Empty() bool { return len(cs.Major) == 0 && len(cs.Detailed) == 0 }

// LifecycleStatus is the state transition recorded by a LifecycleEvent.
type LifecycleStatus string

const (
	StatusFirstSeen  LifecycleStatus = "FirstSeen"
	StatusIncreased  LifecycleStatus = "Increased"
	StatusDecreased  LifecycleStatus = "Decreased"
	StatusLiquidated LifecycleStatus = "Liquidated"
)

// LifecycleEvent is one state transition of an instrument inside a fund.
type LifecycleEvent struct {
	Date               Date            `json:"date"`
	CountLots          int64           `json:"count"`
	WeightPercent      float64         `json:"weight"`
	CountDeltaLots     int64           `json:"count_change"`
	WeightDeltaPercent float64         `json:"weight_change"`
	Status             LifecycleStatus `json:"status"`
}

// Lifecycle is the event history of one instrument in one fund, with rollups.
type Lifecycle struct {
	FundID        string           `json:"fund_id"`
	Code          string           `json:"code"`
	Events        []LifecycleEvent `json:"history"`
	CurrentCount  int64            `json:"current_count"`
	CurrentWeight float64          `json:"current_weight"`
	MaxCount      int64            `json:"max_count"`
	MaxCountDate  Date             `json:"max_count_date"`
	MinCount      int64            `json:"min_count"`
	MinCountDate  Date             `json:"min_count_date"`
}
