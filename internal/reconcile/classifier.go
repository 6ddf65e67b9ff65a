package reconcile

import (
	"math"
	"sort"

	"etfwatch/internal/config"
	"etfwatch/internal/models"
)

// Classifier compares a baseline snapshot with a current one and splits
// the differences into a major set and a detailed set.
type Classifier struct {
	thresholds config.ThresholdConfig
	presence   PresencePolicy
}

// NewClassifier creates a classifier for the given thresholds.
func NewClassifier(t config.ThresholdConfig) *Classifier {
	return &Classifier{
		thresholds: t,
		presence:   NewPresencePolicy(t.PresenceShares),
	}
}

// Classify is a convenience wrapper around NewClassifier(t).Classify.
func Classify(baseline *models.Snapshot, current models.Snapshot, t config.ThresholdConfig) models.ChangeSet {
	return NewClassifier(t).Classify(baseline, current)
}

// Classify returns the major and detailed change sets of current against
// baseline. With no baseline both sets are empty.
//
// Presence is judged on effective counts: a code is New when it is present
// now and was not present in the baseline, Removed in the opposite case.
// Codes present in both are Increased or Decreased by the sign of the share
// delta; a zero share delta is never reported whatever the weight did.
//
// Major records are sorted New, Removed, Increased, Decreased and by code
// within each group. Detailed records are sorted by code.
func (c *Classifier) Classify(baseline *models.Snapshot, current models.Snapshot) models.ChangeSet {
	var cs models.ChangeSet
	if baseline == nil {
		return cs
	}

	presentNow := c.presentCodes(&current)
	presentBefore := c.presentCodes(baseline)

	var added, removed, increased, decreased []models.ChangeRecord
	var detailed []models.ChangeRecord

	for code := range presentNow {
		if presentBefore[code] {
			continue
		}
		r := c.record(code, baseline, &current, models.ChangeNew)
		added = append(added, r)
		detailed = append(detailed, r)
	}
	for code := range presentBefore {
		if presentNow[code] {
			continue
		}
		r := c.record(code, baseline, &current, models.ChangeRemoved)
		removed = append(removed, r)
		detailed = append(detailed, r)
	}

	weightMajor := roundWeight(c.thresholds.WeightMajor)
	for code := range presentNow {
		if !presentBefore[code] {
			continue
		}
		prev, _ := baseline.Holding(code)
		cur, _ := current.Holding(code)
		countDelta := cur.Count - prev.Count
		if countDelta == 0 {
			continue
		}
		wd := weightDelta(cur.Weight, prev.Weight)

		typ := models.ChangeIncreased
		if countDelta < 0 {
			typ = models.ChangeDecreased
		}
		r := c.record(code, baseline, &current, typ)

		switch {
		case countDelta > 0 && (wd >= weightMajor || countDelta >= c.thresholds.CountMajor):
			increased = append(increased, r)
		case countDelta < 0 && (wd <= -weightMajor || countDelta <= -c.thresholds.CountMajor):
			decreased = append(decreased, r)
		}

		if abs64(countDelta) > c.thresholds.CountDetailed {
			detailed = append(detailed, r)
		}
	}

	for _, group := range [][]models.ChangeRecord{added, removed, increased, decreased} {
		sortByCode(group)
		cs.Major = append(cs.Major, group...)
	}
	// ShowWeight only annotates major records.
	for i := range detailed {
		detailed[i].ShowWeight = false
	}
	sortByCode(detailed)
	cs.Detailed = detailed
	return cs
}

func (c *Classifier) presentCodes(s *models.Snapshot) map[string]bool {
	out := make(map[string]bool, len(s.Holdings))
	for code, h := range s.Holdings {
		if c.presence.IsPresent(h.Count) {
			out[code] = true
		}
	}
	return out
}

func (c *Classifier) record(code string, baseline, current *models.Snapshot, typ models.ChangeType) models.ChangeRecord {
	prev, _ := baseline.Holding(code)
	cur, _ := current.Holding(code)
	name := cur.Name
	if name == "" {
		name = prev.Name
	}
	wd := weightDelta(cur.Weight, prev.Weight)
	return models.ChangeRecord{
		Code:               code,
		Name:               name,
		Type:               typ,
		CountDeltaLots:     models.ToLots(cur.Count - prev.Count),
		WeightDeltaPercent: wd,
		PrevCount:          prev.Count,
		PrevWeight:         prev.Weight,
		CurrentCount:       cur.Count,
		CurrentWeight:      cur.Weight,
		ShowWeight:         math.Abs(wd) >= roundWeight(c.thresholds.WeightDisplay),
	}
}

func sortByCode(records []models.ChangeRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].Code < records[j].Code })
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
