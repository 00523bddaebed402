// Package planner lays out deterministic send instants for a batch.
package planner

import "time"

// Plan returns count non-decreasing instants starting at start, spaced
// spacing apart, with at most hourlyCap instants inside any clock-hour
// bucket of loc. When a bucket fills up, the cursor jumps to the top of the
// next hour. spacing may be zero; hourlyCap must be >= 1 (the HTTP edge
// validates it).
func Plan(count int, start time.Time, spacing time.Duration, hourlyCap int, loc *time.Location) []time.Time {
	if loc == nil {
		loc = time.UTC
	}

	instants := make([]time.Time, 0, count)
	cursor := start
	bucket := hourTop(cursor, loc)
	inBucket := 0

	for i := 0; i < count; i++ {
		if inBucket >= hourlyCap {
			cursor = bucket.Add(time.Hour)
			bucket = hourTop(cursor, loc)
			inBucket = 0
		}

		instants = append(instants, cursor)
		inBucket++

		cursor = cursor.Add(spacing)
		if top := hourTop(cursor, loc); !top.Equal(bucket) {
			bucket = top
			inBucket = 0
		}
	}

	return instants
}

// hourTop returns the first instant of t's clock-hour bucket in loc.
func hourTop(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), 0, 0, 0, loc)
}
