// Package opt holds the dispatcher routing heuristics. Everything here is
// pure and read-only: callers pass a snapshot of the day's orders and apply
// any proposed order explicitly.
package opt

import (
	"fieldops/internal/geo"
	"fieldops/internal/model"
)

// SequenceDay proposes a visiting order for one technician's day using
// greedy nearest-neighbor over building coordinates. Ties keep the first
// candidate in original list order, so output is deterministic for equal
// distances. Orders whose building has no coordinate are appended at the
// end, flagged with DistM = -1.
//
// start may be nil: the first order's own building is then both the
// starting point and the first stop. Each stop carries an OutsideWindow
// advisory computed from the order's scheduled time against the building's
// attendance windows; it warns the dispatcher and never blocks sequencing.
//
// O(n^2); daily routes are tens of stops.
func SequenceDay(orders []model.HydratedWorkOrder, start *model.GeoPoint) []model.RouteStop {
	located := []model.HydratedWorkOrder{}
	unlocated := []model.HydratedWorkOrder{}
	for _, o := range orders {
		if o.Building != nil && o.Building.Location != nil {
			located = append(located, o)
		} else {
			unlocated = append(unlocated, o)
		}
	}

	result := make([]model.RouteStop, 0, len(orders))
	visited := make([]bool, len(located))
	var pos *model.GeoPoint
	if start != nil {
		p := *start
		pos = &p
	}

	for len(result) < len(located) {
		best := -1
		bestDist := 0.0
		for i, o := range located {
			if visited[i] {
				continue
			}
			if pos == nil {
				// No starting point yet: the first pending order wins and
				// anchors the route at its own building.
				best = i
				bestDist = 0
				break
			}
			d := geo.DistanceMeters(*pos, *o.Building.Location)
			if best == -1 || d < bestDist {
				best = i
				bestDist = d
			}
		}
		o := located[best]
		visited[best] = true
		result = append(result, model.RouteStop{
			Order:         o,
			Seq:           len(result) + 1,
			DistM:         bestDist,
			OutsideWindow: !geo.WithinAttendanceWindow(o.ScheduledAt, o.Building.Windows),
		})
		loc := *o.Building.Location
		pos = &loc
	}

	for _, o := range unlocated {
		result = append(result, model.RouteStop{
			Order:         o,
			Seq:           len(result) + 1,
			DistM:         -1,
			OutsideWindow: false,
		})
	}
	return result
}
