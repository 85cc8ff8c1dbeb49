package joinconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/gaoyang-zhang/mindspore-federated/shared/middleware"
)

const (
	RoleLeader   = "leader"
	RoleFollower = "follower"

	JoinTypePSI  = "psi"
	StoreTypeCSV = "csv"

	PSIAlgorithmECDH       = "ecdh"
	PSIAlgorithmFilterECDH = "filter_ecdh"
	PSIAlgorithmPlaintext  = "plaintext"

	MaxBucketNum = 1_000_000
	MaxShardNum  = 1000
	// FileFanInLimit is the number of files a downstream reader opens comfortably
	FileFanInLimit = 4096
)

var (
	SupportedJoinTypes     = []string{JoinTypePSI}
	SupportedStoreTypes    = []string{StoreTypeCSV}
	SupportedPSIAlgorithms = []string{PSIAlgorithmECDH, PSIAlgorithmFilterECDH, PSIAlgorithmPlaintext}
	SupportedRoles         = []string{RoleLeader, RoleFollower}
)

// WorkerConfig holds the parameters of a data join session.
// The leader's PrimaryKey, BucketNum, ShardNum, JoinType and PSIAlgorithm win on negotiation.
type WorkerConfig struct {
	PrimaryKey   string `yaml:"primary_key"`
	BucketNum    int    `yaml:"bucket_num"`
	ShardNum     int    `yaml:"shard_num"`
	JoinType     string `yaml:"join_type"`
	StoreType    string `yaml:"store_type"`
	PSIAlgorithm string `yaml:"psi_algorithm"`
	ThreadNum    int    `yaml:"thread_num"`
	OutputDir    string `yaml:"output_dir"`
}

// Default returns the configuration used when nothing else is set
func Default() WorkerConfig {
	return WorkerConfig{
		PrimaryKey:   "oaid",
		BucketNum:    64,
		ShardNum:     1,
		JoinType:     JoinTypePSI,
		StoreType:    StoreTypeCSV,
		PSIAlgorithm: PSIAlgorithmECDH,
		ThreadNum:    0,
	}
}

// Validate checks every rule and returns the first violation as a *ConfigValidationError.
// The output directory must already exist.
func (c WorkerConfig) Validate() error {
	if err := c.ValidateNegotiable(); err != nil {
		return err
	}
	if !contains(SupportedStoreTypes, c.StoreType) {
		return unsupported("store_type", "store", c.StoreType)
	}
	if c.ThreadNum < 0 {
		return newValidationError("thread_num", c.ThreadNum, "must be non-negative")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return newValidationError("output_dir", c.OutputDir, "must not be empty")
	}
	info, err := os.Stat(c.OutputDir)
	if err != nil || !info.IsDir() {
		return &ConfigValidationError{Field: "output_dir", Value: c.OutputDir, Reason: "is not a directory", Err: err}
	}

	if c.ExceedsFileFanIn() {
		middleware.LogWarn("Join Config",
			"shard_num * bucket_num = %d exceeds the recommended %d files per dataset",
			c.ShardNum*c.BucketNum, FileFanInLimit)
	}
	return nil
}

// ValidateNegotiable checks only the fields the leader sends to the follower
func (c WorkerConfig) ValidateNegotiable() error {
	if !contains(SupportedJoinTypes, c.JoinType) {
		return unsupported("join_type", "join", c.JoinType)
	}
	if c.BucketNum < 1 || c.BucketNum > MaxBucketNum {
		return newValidationError("bucket_num", c.BucketNum, fmt.Sprintf("must be in [1, %d]", MaxBucketNum))
	}
	if strings.TrimSpace(c.PrimaryKey) == "" {
		return newValidationError("primary_key", c.PrimaryKey, "must not be empty")
	}
	if c.ShardNum < 1 || c.ShardNum > MaxShardNum {
		return newValidationError("shard_num", c.ShardNum, fmt.Sprintf("must be in [1, %d]", MaxShardNum))
	}
	if !contains(SupportedPSIAlgorithms, c.PSIAlgorithm) {
		return unsupported("psi_algorithm", "psi algorithm", c.PSIAlgorithm)
	}
	return nil
}

// ExceedsFileFanIn reports whether a session would write more files than FileFanInLimit
func (c WorkerConfig) ExceedsFileFanIn() bool {
	return c.ShardNum*c.BucketNum > FileFanInLimit
}

// Reconcile returns a copy of follower where every negotiated field the leader set replaces the follower's value
func Reconcile(leader, follower WorkerConfig) WorkerConfig {
	result := follower

	if leader.PrimaryKey != "" {
		result.PrimaryKey = leader.PrimaryKey
	}
	if leader.BucketNum != 0 {
		result.BucketNum = leader.BucketNum
	}
	if leader.ShardNum != 0 {
		result.ShardNum = leader.ShardNum
	}
	if leader.JoinType != "" {
		result.JoinType = leader.JoinType
	}
	if leader.PSIAlgorithm != "" {
		result.PSIAlgorithm = leader.PSIAlgorithm
	}
	return result
}

// ValidateRole checks that role is leader or follower
func ValidateRole(role string) error {
	if !contains(SupportedRoles, role) {
		return unsupported("role", "role", role)
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
