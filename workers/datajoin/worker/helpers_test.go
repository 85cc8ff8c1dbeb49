package worker

import (
	"testing"

	"github.com/stretchr/testify/require"

	wire "github.com/gaoyang-zhang/mindspore-federated/protocol/negotiation"
	"github.com/gaoyang-zhang/mindspore-federated/workers/datajoin/shared/joinconfig"
)

func mustRegister(t *testing.T) []byte {
	data, err := wire.SerializeWorkerRegister(wire.NewWorkerRegister(joinconfig.RoleFollower, []byte{1}))
	require.NoError(t, err)
	return data
}
