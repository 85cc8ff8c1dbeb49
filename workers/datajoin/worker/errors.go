package worker

import "fmt"

// EmptyJoinResultError is returned when no bucket produced an intersection
type EmptyJoinResultError struct {
	BucketNum     int
	FailedBuckets int
}

func (e *EmptyJoinResultError) Error() string {
	if e.FailedBuckets > 0 {
		return fmt.Sprintf("the intersection of all %d buckets is empty (%d buckets failed)", e.BucketNum, e.FailedBuckets)
	}
	return fmt.Sprintf("the intersection of all %d buckets is empty", e.BucketNum)
}
