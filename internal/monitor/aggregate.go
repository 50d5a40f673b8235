package monitor

import (
	"sort"
	"time"

	"github.com/vyrodovalexey/reqguard/internal/recorder"
)

// AggregatedGroup is one (identity, reason) bucket of failure records.
type AggregatedGroup struct {
	Identity  string    `json:"identity"`
	Reason    string    `json:"reason"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

// groupKey identifies an aggregation bucket.
type groupKey struct {
	identity string
	reason   string
}

// aggregateRecords groups records by (identity, reason) and computes
// count, firstSeen and lastSeen per group. Groups are sorted by count
// descending; ties keep first-appearance order, so the result is
// deterministic for a given record sequence.
func aggregateRecords(records []*recorder.FailureRecord) []AggregatedGroup {
	byKey := make(map[groupKey]*AggregatedGroup)
	order := make([]groupKey, 0)

	for _, rec := range records {
		key := groupKey{identity: rec.Identity, reason: rec.Reason}

		g, ok := byKey[key]
		if !ok {
			g = &AggregatedGroup{
				Identity:  rec.Identity,
				Reason:    rec.Reason,
				FirstSeen: rec.Timestamp,
				LastSeen:  rec.Timestamp,
			}
			byKey[key] = g
			order = append(order, key)
		}

		g.Count++
		if rec.Timestamp.Before(g.FirstSeen) {
			g.FirstSeen = rec.Timestamp
		}
		if rec.Timestamp.After(g.LastSeen) {
			g.LastSeen = rec.Timestamp
		}
	}

	groups := make([]AggregatedGroup, 0, len(order))
	for _, key := range order {
		groups = append(groups, *byKey[key])
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Count > groups[j].Count
	})

	return groups
}
