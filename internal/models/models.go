// Package models provides the domain types shared by the snapshot store,
// the change classifier and the lifecycle history builder.
package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// SharesPerLot is the number of shares in one lot.
const SharesPerLot = 1000

// ToLots converts a share count to lots, truncating toward zero.
func ToLots(shares int64) int64 {
	return shares / SharesPerLot
}

// Holding is a single position inside a fund snapshot.
type Holding struct {
	Code   string  `json:"-"`
	Name   string  `json:"name"`
	Count  int64   `json:"count"`  // shares
	Weight float64 `json:"weight"` // percent of portfolio
}

// PriceInfo is the fund quote captured with a snapshot. Values are passed
// through untouched.
type PriceInfo struct {
	Price         string `json:"price"`
	ChangeValue   string `json:"change_value"`
	ChangePercent string `json:"change_percent"`
}

// Snapshot is the composition of a fund as observed on one calendar day.
type Snapshot struct {
	Date      Date               `json:"data_date"`
	IsLatest  bool               `json:"is_latest"`
	PriceInfo PriceInfo          `json:"price_info"`
	Holdings  map[string]Holding `json:"holdings"`
}

// UnmarshalJSON fills each Holding's Code from its map key.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	type plain Snapshot
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Date.IsZero() {
		return fmt.Errorf("snapshot is missing data_date")
	}
	for code, h := range p.Holdings {
		if h.Count < 0 {
			return fmt.Errorf("holding %s has negative count %d", code, h.Count)
		}
		h.Code = code
		p.Holdings[code] = h
	}
	if p.Holdings == nil {
		p.Holdings = map[string]Holding{}
	}
	*s = Snapshot(p)
	return nil
}

// Holding returns the holding for code, or the zero Holding if absent.
func (s *Snapshot) Holding(code string) (Holding, bool) {
	if s == nil {
		return Holding{}, false
	}
	h, ok := s.Holdings[code]
	return h, ok
}

// Codes returns the instrument codes of the snapshot in ascending order.
func (s *Snapshot) Codes() []string {
	codes := make([]string, 0, len(s.Holdings))
	for code := range s.Holdings {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Filter returns a copy of s holding only the codes accepted by keep.
func (s Snapshot) Filter(keep func(code string) bool) Snapshot {
	out := s
	out.Holdings = make(map[string]Holding, len(s.Holdings))
	for code, h := range s.Holdings {
		if keep(code) {
			out.Holdings[code] = h
		}
	}
	return out
}

// FundHistory is the chronological snapshot sequence of one fund.
type FundHistory struct {
	FundID    string
	Snapshots []Snapshot
}

// Last returns the most recent snapshot, or nil when the history is empty.
func (h FundHistory) Last() *Snapshot {
	if len(h.Snapshots) == 0 {
		return nil
	}
	return &h.Snapshots[len(h.Snapshots)-1]
}

// Len returns the number of stored snapshots.
func (h FundHistory) Len() int { return len(h.Snapshots) }
