package models

import "time"

// BucketAggregate holds per-bucket statistics for one metric stream.
type BucketAggregate struct {
	Bucket time.Time
	// First is the earliest event timestamp that fell into Bucket.
	First         time.Time
	TotalCount    int
	FailedCount   int
	SuccessCount  int
	Revenue       float64
	LatencyMedian float64
	LatencyCount  int
}

// DimensionAggregate holds per-bucket counts for one value of a dimension column.
type DimensionAggregate struct {
	Bucket      time.Time
	First       time.Time
	Value       string
	TotalCount  int
	FailedCount int
}
