package negotiation

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaoyang-zhang/mindspore-federated/protocol/common"
)

func TestWorkerRegisterRoundTrip(t *testing.T) {
	nonce := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	data, err := SerializeWorkerRegister(NewWorkerRegister("follower", nonce))
	require.NoError(t, err)

	msgType, err := common.GetMessageType(data)
	require.NoError(t, err)
	assert.Equal(t, common.WorkerRegisterType, msgType)

	msg, err := DeserializeWorkerRegister(data)
	require.NoError(t, err)
	assert.Equal(t, "follower", msg.Role)
	assert.Equal(t, nonce, msg.Nonce)
	assert.Equal(t, int32(len(data)), msg.Header.TotalLength)
}

func TestWorkerConfigRoundTrip(t *testing.T) {
	original := &WorkerConfigMessage{
		SessionID:    []byte{0xde, 0xad, 0xbe, 0xef},
		PrimaryKey:   "oaid",
		BucketNum:    16,
		ShardNum:     2,
		JoinType:     "psi",
		PSIAlgorithm: "ecdh",
		Nonce:        []byte{9, 8, 7},
	}

	data, err := SerializeWorkerConfig(original)
	require.NoError(t, err)

	// fixed part: common header + bucket_num + shard_num
	headerLength := binary.BigEndian.Uint16(data[0:])
	assert.Equal(t, uint16(common.HeaderSize+2*common.Uint32Size), headerLength)

	msg, err := DeserializeWorkerConfig(data)
	require.NoError(t, err)
	assert.Equal(t, original.SessionID, msg.SessionID)
	assert.Equal(t, original.PrimaryKey, msg.PrimaryKey)
	assert.Equal(t, original.BucketNum, msg.BucketNum)
	assert.Equal(t, original.ShardNum, msg.ShardNum)
	assert.Equal(t, original.JoinType, msg.JoinType)
	assert.Equal(t, original.PSIAlgorithm, msg.PSIAlgorithm)
	assert.Equal(t, original.Nonce, msg.Nonce)
}

func TestDeserializeRejectsMalformedData(t *testing.T) {
	register, err := SerializeWorkerRegister(NewWorkerRegister("follower", []byte{1}))
	require.NoError(t, err)
	config, err := SerializeWorkerConfig(&WorkerConfigMessage{PrimaryKey: "id", BucketNum: 1, ShardNum: 1})
	require.NoError(t, err)

	tests := []struct {
		name   string
		decode func() error
		errMsg string
	}{
		{
			name: "too short",
			decode: func() error {
				_, err := DeserializeWorkerRegister([]byte{0, 1})
				return err
			},
			errMsg: "too short",
		},
		{
			name: "wrong type",
			decode: func() error {
				_, err := DeserializeWorkerConfig(register)
				return err
			},
			errMsg: "invalid message type",
		},
		{
			name: "truncated config",
			decode: func() error {
				truncated := append([]byte(nil), config[:len(config)-3]...)
				binary.BigEndian.PutUint32(truncated[common.HeaderLengthSize:], uint32(len(truncated)))
				_, err := DeserializeWorkerConfig(truncated)
				return err
			},
			errMsg: "truncated",
		},
		{
			name: "length mismatch",
			decode: func() error {
				_, err := DeserializeWorkerRegister(append(append([]byte(nil), register...), 0))
				return err
			},
			errMsg: "total length mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decode()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
