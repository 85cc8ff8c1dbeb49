package deserializer

import (
	"fmt"

	"github.com/gaoyang-zhang/mindspore-federated/protocol/common"
	"github.com/gaoyang-zhang/mindspore-federated/protocol/negotiation"
	"github.com/gaoyang-zhang/mindspore-federated/protocol/psiround"
)

// Deserialize identifies the message type and deserializes the appropriate message
func Deserialize(data []byte) (interface{}, error) {
	msgType, err := common.GetMessageType(data)
	if err != nil {
		return nil, fmt.Errorf("failed to get message type: %w", err)
	}

	switch msgType {
	case common.WorkerRegisterType:
		return negotiation.DeserializeWorkerRegister(data)
	case common.WorkerConfigType:
		return negotiation.DeserializeWorkerConfig(data)
	case common.PSIRoundType:
		return psiround.DeserializeRoundMessage(data)
	default:
		return nil, fmt.Errorf("unknown message type: %d", msgType)
	}
}

// IsValidMessage checks if the data contains a valid message
func IsValidMessage(data []byte) bool {
	_, err := Deserialize(data)
	return err == nil
}
