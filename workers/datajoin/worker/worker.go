package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/mohae/deepcopy"

	partitionmanager "github.com/gaoyang-zhang/mindspore-federated/shared/partition_manager"
	"github.com/gaoyang-zhang/mindspore-federated/shared/middleware"
	"github.com/gaoyang-zhang/mindspore-federated/shared/transport"
	"github.com/gaoyang-zhang/mindspore-federated/workers/datajoin/shared/bucket"
	"github.com/gaoyang-zhang/mindspore-federated/workers/datajoin/shared/joinconfig"
	"github.com/gaoyang-zhang/mindspore-federated/workers/datajoin/shared/negotiation"
	"github.com/gaoyang-zhang/mindspore-federated/workers/datajoin/shared/psi"
	"github.com/gaoyang-zhang/mindspore-federated/workers/datajoin/shared/store"
)

const (
	DefaultNegotiationTimeout = 5 * time.Minute
	DefaultRoundTimeout       = 10 * time.Minute
)

// Options configures a DataWorker
type Options struct {
	Role string
	// PeerName is the transport name of the remote party
	PeerName string
	Config   joinconfig.WorkerConfig

	MainTableFiles []string
	// Schema takes precedence over SchemaPath
	Schema     store.Schema
	SchemaPath string

	OutputPrefix string
	// KeepExisting makes the export fail instead of replacing files from an earlier run
	KeepExisting bool

	NegotiationTimeout time.Duration
	RoundTimeout       time.Duration
}

// DataWorker runs one data join session: negotiate, load, bucket, intersect and export
type DataWorker struct {
	opts      Options
	transport transport.Transport
	phase     atomic.Value
}

// New creates a worker talking to the peer over t. The caller keeps ownership of t;
// opts is copied.
func New(opts Options, t transport.Transport) (*DataWorker, error) {
	if err := joinconfig.ValidateRole(opts.Role); err != nil {
		return nil, err
	}
	if opts.PeerName == "" {
		return nil, &joinconfig.ConfigValidationError{Field: "remote_server_name", Value: "", Reason: "must not be empty"}
	}
	if t == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.NegotiationTimeout <= 0 {
		opts.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if opts.RoundTimeout <= 0 {
		opts.RoundTimeout = DefaultRoundTimeout
	}
	if opts.OutputPrefix == "" {
		opts.OutputPrefix = partitionmanager.DefaultFilePrefix
	}

	// the worker may run long after the caller reuses its slices
	w := &DataWorker{opts: deepcopy.Copy(opts).(Options), transport: t}
	w.setPhase("idle")
	return w, nil
}

// Communicator returns the transport so later phases can reuse the connection
func (w *DataWorker) Communicator() transport.Transport {
	return w.transport
}

// Phase describes what the worker is doing
func (w *DataWorker) Phase() string {
	return w.phase.Load().(string)
}

func (w *DataWorker) setPhase(phase string) {
	w.phase.Store(phase)
}

// DoWorker runs the whole session
func (w *DataWorker) DoWorker(ctx context.Context) (*Report, error) {
	report, err := w.doWorker(ctx)
	if err != nil {
		w.setPhase("failed")
		return report, err
	}
	w.setPhase("done")
	return report, nil
}

func (w *DataWorker) doWorker(ctx context.Context) (*Report, error) {
	w.setPhase("negotiating")
	negotiationCtx, cancel := context.WithTimeout(ctx, w.opts.NegotiationTimeout)
	session, err := negotiation.New(w.opts.Role, w.opts.PeerName, w.transport).Negotiate(negotiationCtx, w.opts.Config)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("negotiation failed: %w", err)
	}
	cfg := session.Config
	report := &Report{SessionID: session.ID, Config: cfg}

	w.setPhase("loading")
	source, err := w.loadDataSource(cfg)
	if err != nil {
		return report, err
	}

	pm, err := partitionmanager.NewPartitionManager(cfg.OutputDir, partitionmanager.WriteOptions{
		FilePrefix: w.opts.OutputPrefix,
		Header:     append([]string{cfg.PrimaryKey}, source.Schema().Names()...),
		ShardNum:   cfg.ShardNum,
		Overwrite:  !w.opts.KeepExisting,
	})
	if err != nil {
		return report, err
	}
	if _, err := pm.RecoverIncompleteWrites(); err != nil {
		return report, err
	}

	intersector, err := psi.New(cfg.PSIAlgorithm, w.transport, w.opts.PeerName, session.ID)
	if err != nil {
		return report, err
	}

	buckets := bucket.Bucket(source.Keys(), cfg.BucketNum)
	middleware.LogInfo("Data Worker", "%s joining %d keys in %d buckets with %s psi",
		w.opts.Role, len(source.Keys()), cfg.BucketNum, cfg.PSIAlgorithm)

	for bucketID, keys := range buckets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		w.setPhase(fmt.Sprintf("joining bucket %d/%d", bucketID+1, cfg.BucketNum))

		intersection, err := w.intersect(ctx, intersector, bucketID, keys, cfg.ThreadNum)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			var psiErr *psi.PSITransportError
			if !errors.As(err, &psiErr) {
				return report, err
			}

			report.FailedBuckets = append(report.FailedBuckets, BucketFailure{BucketID: bucketID, Err: err})
			middleware.LogWarn("Data Worker", "Bucket %d failed: %v", bucketID, err)
			if errors.Is(err, transport.ErrClosed) || errors.Is(err, transport.ErrPeerDisconnected) {
				return report, fmt.Errorf("session aborted at bucket %d: %w", bucketID, err)
			}
			continue
		}

		if len(intersection) == 0 {
			continue
		}

		files, err := w.export(pm, source, bucketID, intersection)
		if err != nil {
			return report, err
		}
		report.ExportedBuckets = append(report.ExportedBuckets, bucketID)
		report.ExportedRecords += len(intersection)
		report.Files = append(report.Files, files...)
	}

	if len(report.ExportedBuckets) == 0 {
		return report, &EmptyJoinResultError{BucketNum: cfg.BucketNum, FailedBuckets: len(report.FailedBuckets)}
	}

	middleware.LogInfo("Data Worker", "%s exported %d records from %d buckets into %d files (%d buckets failed)",
		w.opts.Role, report.ExportedRecords, len(report.ExportedBuckets), len(report.Files), len(report.FailedBuckets))
	return report, nil
}

func (w *DataWorker) loadDataSource(cfg joinconfig.WorkerConfig) (store.DataSource, error) {
	schema := w.opts.Schema
	if len(schema) == 0 {
		var err error
		if schema, err = store.LoadSchema(w.opts.SchemaPath); err != nil {
			return nil, err
		}
	}

	source, err := store.New(cfg.StoreType, store.Options{
		PrimaryKey: cfg.PrimaryKey,
		Schema:     schema,
		Files:      w.opts.MainTableFiles,
	})
	if err != nil {
		return nil, err
	}
	if err := source.Verify(); err != nil {
		return nil, fmt.Errorf("data source verification failed: %w", err)
	}
	if err := source.LoadRawData(); err != nil {
		return nil, err
	}
	return source, nil
}

func (w *DataWorker) intersect(ctx context.Context, intersector psi.Intersector, bucketID int, keys []string, threads int) ([]string, error) {
	roundCtx, cancel := context.WithTimeout(ctx, w.opts.RoundTimeout)
	defer cancel()

	peerRole := joinconfig.RoleFollower
	if w.opts.Role == joinconfig.RoleFollower {
		peerRole = joinconfig.RoleLeader
	}
	return intersector.Intersect(roundCtx, psi.Request{
		Keys:      keys,
		SelfRole:  w.opts.Role,
		PeerRole:  peerRole,
		BucketID:  bucketID,
		ThreadNum: threads,
	})
}

func (w *DataWorker) export(pm *partitionmanager.PartitionManager, source store.DataSource, bucketID int, keys []string) ([]string, error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	rows := make([][]string, 0, len(sorted))
	err := source.Values(sorted, func(record store.Record) error {
		rows = append(rows, record.Row())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bucket %d: %w", bucketID, err)
	}

	return pm.WriteBucket(partitionmanager.BucketData{BucketID: bucketID, Rows: rows})
}
