package negotiation

import (
	"fmt"

	"github.com/gaoyang-zhang/mindspore-federated/protocol/common"
)

// WorkerRegister is sent by the follower to announce itself to the leader.
// The leader echoes Nonce in its config so replies to earlier sessions can be told apart.
type WorkerRegister struct {
	Header common.Header
	Role   string
	Nonce  []byte
}

// WorkerConfigMessage carries the leader's negotiated parameters back to the follower.
type WorkerConfigMessage struct {
	Header       common.Header
	SessionID    []byte
	PrimaryKey   string
	BucketNum    uint32
	ShardNum     uint32
	JoinType     string
	PSIAlgorithm string
	Nonce        []byte
}

// NewWorkerRegister creates a new WorkerRegister
func NewWorkerRegister(role string, nonce []byte) *WorkerRegister {
	return &WorkerRegister{
		Header: common.Header{MsgTypeID: common.WorkerRegisterType},
		Role:   role,
		Nonce:  nonce,
	}
}

// SerializeWorkerRegister serializes a WorkerRegister to bytes
func SerializeWorkerRegister(msg *WorkerRegister) ([]byte, error) {
	w := common.NewFieldWriter(common.StringLengthSize + len(msg.Role) + common.BlobLengthSize + len(msg.Nonce))
	if err := w.PutString(msg.Role); err != nil {
		return nil, fmt.Errorf("role: %w", err)
	}
	w.PutBlob(msg.Nonce)
	return w.Finish(common.HeaderSize, common.WorkerRegisterType), nil
}

// DeserializeWorkerRegister deserializes bytes to a WorkerRegister
func DeserializeWorkerRegister(data []byte) (*WorkerRegister, error) {
	header, err := common.ReadHeader(data, common.WorkerRegisterType)
	if err != nil {
		return nil, err
	}

	r := common.NewFieldReader(data)
	role, err := r.String("role")
	if err != nil {
		return nil, err
	}
	nonce, err := r.Blob("nonce")
	if err != nil {
		return nil, err
	}

	return &WorkerRegister{Header: header, Role: role, Nonce: append([]byte(nil), nonce...)}, nil
}

// SerializeWorkerConfig serializes a WorkerConfigMessage to bytes.
// Layout after the common header: BucketNum(4) ShardNum(4) then length-prefixed
// SessionID, PrimaryKey, JoinType, PSIAlgorithm and the echoed register Nonce.
func SerializeWorkerConfig(msg *WorkerConfigMessage) ([]byte, error) {
	w := common.NewFieldWriter(64 + len(msg.SessionID) + len(msg.PrimaryKey) + len(msg.Nonce))
	w.PutUint32(msg.BucketNum)
	w.PutUint32(msg.ShardNum)
	headerLength := w.Len()

	w.PutBlob(msg.SessionID)
	if err := w.PutString(msg.PrimaryKey); err != nil {
		return nil, fmt.Errorf("primary_key: %w", err)
	}
	if err := w.PutString(msg.JoinType); err != nil {
		return nil, fmt.Errorf("join_type: %w", err)
	}
	if err := w.PutString(msg.PSIAlgorithm); err != nil {
		return nil, fmt.Errorf("psi_algorithm: %w", err)
	}
	w.PutBlob(msg.Nonce)

	return w.Finish(headerLength, common.WorkerConfigType), nil
}

// DeserializeWorkerConfig deserializes bytes to a WorkerConfigMessage
func DeserializeWorkerConfig(data []byte) (*WorkerConfigMessage, error) {
	header, err := common.ReadHeader(data, common.WorkerConfigType)
	if err != nil {
		return nil, err
	}

	r := common.NewFieldReader(data)
	msg := &WorkerConfigMessage{Header: header}

	if msg.BucketNum, err = r.Uint32("bucket_num"); err != nil {
		return nil, err
	}
	if msg.ShardNum, err = r.Uint32("shard_num"); err != nil {
		return nil, err
	}
	sessionID, err := r.Blob("session_id")
	if err != nil {
		return nil, err
	}
	msg.SessionID = append([]byte(nil), sessionID...)
	if msg.PrimaryKey, err = r.String("primary_key"); err != nil {
		return nil, err
	}
	if msg.JoinType, err = r.String("join_type"); err != nil {
		return nil, err
	}
	if msg.PSIAlgorithm, err = r.String("psi_algorithm"); err != nil {
		return nil, err
	}
	nonce, err := r.Blob("nonce")
	if err != nil {
		return nil, err
	}
	msg.Nonce = append([]byte(nil), nonce...)

	return msg, nil
}
