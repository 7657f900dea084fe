package ipd

import (
	"bytes"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
)

// DayBucket is the assignment billed for one calendar day.
type DayBucket struct {
	Day          civil.Date
	AssignmentID uuid.UUID
	BedID        uuid.UUID
	RoomType     string
	BedCode      string
}

// BucketDays maps every day in [from, to] to the assignment active on it in
// loc's calendar. An assignment is active on d when it starts by the end of
// d and has not ended before d began. When several are active the latest
// from_ts wins, then the highest id. Days nobody occupied are skipped.
func BucketDays(assignments []*BedAssignment, from, to civil.Date, loc *time.Location) []DayBucket {
	if loc == nil {
		loc = time.UTC
	}
	if to.Before(from) {
		return nil
	}
	var out []DayBucket
	for d := from; !d.After(to); d = d.AddDays(1) {
		start := d.In(loc)
		end := d.AddDays(1).In(loc).Add(-time.Nanosecond)

		var best *BedAssignment
		for _, a := range assignments {
			if a == nil || a.FromTS.After(end) {
				continue
			}
			if a.ToTS != nil && a.ToTS.Before(start) {
				continue
			}
			if best == nil || supersedes(a, best) {
				best = a
			}
		}
		if best == nil {
			continue
		}
		out = append(out, DayBucket{
			Day:          d,
			AssignmentID: best.ID,
			BedID:        best.BedID,
			RoomType:     best.RoomType,
			BedCode:      best.BedCode,
		})
	}
	return out
}

func supersedes(a, b *BedAssignment) bool {
	if !a.FromTS.Equal(b.FromTS) {
		return a.FromTS.After(b.FromTS)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) > 0
}
