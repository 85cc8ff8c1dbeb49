package worker

import (
	"github.com/gaoyang-zhang/mindspore-federated/workers/datajoin/shared/joinconfig"
)

// BucketFailure records a bucket whose intersection was aborted
type BucketFailure struct {
	BucketID int
	Err      error
}

// Report summarizes a data join session
type Report struct {
	SessionID       []byte
	Config          joinconfig.WorkerConfig
	ExportedBuckets []int
	FailedBuckets   []BucketFailure
	ExportedRecords int
	Files           []string
}
