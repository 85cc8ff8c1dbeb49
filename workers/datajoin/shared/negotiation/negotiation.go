package negotiation

import (
	"bytes"
	"context"
	"crypto/hkdf"
	"crypto/sha256"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/gaoyang-zhang/mindspore-federated/protocol/deserializer"
	wire "github.com/gaoyang-zhang/mindspore-federated/protocol/negotiation"
	"github.com/gaoyang-zhang/mindspore-federated/shared/middleware"
	"github.com/gaoyang-zhang/mindspore-federated/shared/transport"
	"github.com/gaoyang-zhang/mindspore-federated/workers/datajoin/shared/joinconfig"
)

// State of a party during negotiation
type State int32

const (
	AwaitingPeer State = iota
	Negotiated
)

func (s State) String() string {
	switch s {
	case AwaitingPeer:
		return "awaiting_peer"
	case Negotiated:
		return "negotiated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session is the outcome of a successful negotiation
type Session struct {
	Config joinconfig.WorkerConfig
	ID     []byte
}

// Negotiator agrees on a WorkerConfig with the remote party
type Negotiator struct {
	role      string
	peer      string
	transport transport.Transport
	state     atomic.Int32
}

// New creates a Negotiator for role talking to peer over t
func New(role, peer string, t transport.Transport) *Negotiator {
	return &Negotiator{role: role, peer: peer, transport: t}
}

// State returns the current negotiation state
func (n *Negotiator) State() State {
	return State(n.state.Load())
}

// Negotiate runs the leader or follower side depending on the configured role
func (n *Negotiator) Negotiate(ctx context.Context, local joinconfig.WorkerConfig) (*Session, error) {
	var (
		session *Session
		err     error
	)
	switch n.role {
	case joinconfig.RoleLeader:
		session, err = n.lead(ctx, local)
	case joinconfig.RoleFollower:
		session, err = n.follow(ctx, local)
	default:
		return nil, joinconfig.ValidateRole(n.role)
	}
	if err != nil {
		return nil, err
	}

	n.state.Store(int32(Negotiated))
	middleware.LogInfo("Negotiation", "%s negotiated with %s: primary_key=%s bucket_num=%d shard_num=%d join_type=%s psi=%s",
		n.role, n.peer, session.Config.PrimaryKey, session.Config.BucketNum, session.Config.ShardNum,
		session.Config.JoinType, session.Config.PSIAlgorithm)
	return session, nil
}

// lead validates the local config, waits for the follower to register and answers with the config
func (n *Negotiator) lead(ctx context.Context, local joinconfig.WorkerConfig) (*Session, error) {
	if err := local.Validate(); err != nil {
		return nil, err
	}

	middleware.LogInfo("Negotiation", "Leader waiting for %s to register", n.peer)
	msg, err := n.await(ctx, "worker register", func(msg interface{}) bool {
		_, ok := msg.(*wire.WorkerRegister)
		return ok
	})
	if err != nil {
		return nil, err
	}
	register := msg.(*wire.WorkerRegister)
	if register.Role != joinconfig.RoleFollower {
		return nil, &joinconfig.ConfigValidationError{
			Field:  "role",
			Value:  register.Role,
			Reason: "peer must register as " + joinconfig.RoleFollower,
		}
	}

	sessionID := NewSessionID(joinconfig.RoleLeader, n.peer)
	reply, err := wire.SerializeWorkerConfig(&wire.WorkerConfigMessage{
		SessionID:    sessionID,
		PrimaryKey:   local.PrimaryKey,
		BucketNum:    uint32(local.BucketNum),
		ShardNum:     uint32(local.ShardNum),
		JoinType:     local.JoinType,
		PSIAlgorithm: local.PSIAlgorithm,
		Nonce:        register.Nonce,
	})
	if err != nil {
		return nil, err
	}
	if err := n.transport.Send(ctx, n.peer, reply); err != nil {
		return nil, fmt.Errorf("sending worker config: %w", err)
	}

	return &Session{Config: local, ID: sessionID}, nil
}

// follow registers with the leader and adopts the leader's negotiated fields
func (n *Negotiator) follow(ctx context.Context, local joinconfig.WorkerConfig) (*Session, error) {
	id := uuid.New()
	nonce := id[:]

	register, err := wire.SerializeWorkerRegister(wire.NewWorkerRegister(n.role, nonce))
	if err != nil {
		return nil, err
	}
	if err := n.transport.Send(ctx, n.peer, register); err != nil {
		return nil, fmt.Errorf("sending worker register: %w", err)
	}

	decoded, err := n.await(ctx, "worker config", func(msg interface{}) bool {
		config, ok := msg.(*wire.WorkerConfigMessage)
		return ok && bytes.Equal(config.Nonce, nonce)
	})
	if err != nil {
		return nil, err
	}
	msg := decoded.(*wire.WorkerConfigMessage)

	leader := joinconfig.WorkerConfig{
		PrimaryKey:   msg.PrimaryKey,
		BucketNum:    int(msg.BucketNum),
		ShardNum:     int(msg.ShardNum),
		JoinType:     msg.JoinType,
		PSIAlgorithm: msg.PSIAlgorithm,
	}
	// a zero from the leader means the value is missing, not "keep yours"
	if err := leader.ValidateNegotiable(); err != nil {
		return nil, err
	}
	if len(msg.SessionID) == 0 {
		return nil, &joinconfig.ConfigValidationError{Field: "session_id", Value: "", Reason: "must not be empty"}
	}

	config := joinconfig.Reconcile(leader, local)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Session{Config: config, ID: msg.SessionID}, nil
}

// await returns the first message from the peer accepted by match.
// Leftovers of an earlier session are skipped.
func (n *Negotiator) await(ctx context.Context, what string, match func(msg interface{}) bool) (interface{}, error) {
	for {
		data, err := n.transport.Receive(ctx, n.peer)
		if err != nil {
			return nil, fmt.Errorf("waiting for %s: %w", what, err)
		}
		msg, err := deserializer.Deserialize(data)
		if err != nil {
			middleware.LogWarn("Negotiation", "Skipping undecodable message from %s: %v", n.peer, err)
			continue
		}
		if match(msg) {
			return msg, nil
		}
		middleware.LogWarn("Negotiation", "Skipping stale %T from %s while waiting for %s", msg, n.peer, what)
	}
}

// NewSessionID derives a fresh session identifier bound to the participants
func NewSessionID(participants ...string) []byte {
	secret := uuid.New().String()

	info := fmt.Sprintf("%d", len(participants))
	for _, p := range participants {
		info += "|" + p
	}

	sid, err := hkdf.Key(sha256.New, []byte(secret), nil, info, sha256.Size)
	if err != nil {
		panic(err)
	}
	return sid
}
