package psiround

import (
	"fmt"

	"github.com/gaoyang-zhang/mindspore-federated/protocol/common"
)

// Steps of a bucket's intersection run
const (
	StepKeys    = 1 // plaintext keys, singly-blinded points or a filter of them
	StepBlinded = 2 // doubly-blinded values of the receiver's points
	StepResult  = 3 // candidate intersection keys
	StepConfirm = 4 // candidates the peer actually holds
)

// Fixed field sizes
const (
	BucketIDSize  = 4
	StepSize      = 1
	ItemCountSize = 4
)

// RoundMessage carries one step of the intersection protocol for a single bucket.
type RoundMessage struct {
	Header   common.Header
	BucketID int
	Step     int
	Items    [][]byte
}

// NewRoundMessage creates a new RoundMessage
func NewRoundMessage(bucketID, step int, items [][]byte) *RoundMessage {
	return &RoundMessage{
		Header:   common.Header{MsgTypeID: common.PSIRoundType},
		BucketID: bucketID,
		Step:     step,
		Items:    items,
	}
}

// SerializeRoundMessage serializes a RoundMessage to bytes
func SerializeRoundMessage(msg *RoundMessage) ([]byte, error) {
	if msg.BucketID < 0 {
		return nil, fmt.Errorf("invalid bucket id %d", msg.BucketID)
	}
	if msg.Step < 0 || msg.Step > 255 {
		return nil, fmt.Errorf("invalid step %d", msg.Step)
	}

	size := BucketIDSize + StepSize + ItemCountSize
	for _, item := range msg.Items {
		size += common.BlobLengthSize + len(item)
	}

	w := common.NewFieldWriter(size)
	w.PutUint32(uint32(msg.BucketID))
	w.PutByte(byte(msg.Step))
	w.PutUint32(uint32(len(msg.Items)))
	headerLength := w.Len()

	for _, item := range msg.Items {
		w.PutBlob(item)
	}

	return w.Finish(headerLength, common.PSIRoundType), nil
}

// DeserializeRoundMessage deserializes bytes to a RoundMessage.
// Items alias the input buffer.
func DeserializeRoundMessage(data []byte) (*RoundMessage, error) {
	header, err := common.ReadHeader(data, common.PSIRoundType)
	if err != nil {
		return nil, err
	}

	r := common.NewFieldReader(data)
	bucketID, err := r.Uint32("bucket_id")
	if err != nil {
		return nil, err
	}
	step, err := r.Byte("step")
	if err != nil {
		return nil, err
	}
	count, err := r.Uint32("item_count")
	if err != nil {
		return nil, err
	}

	// every item needs at least its length prefix
	if int(count) > r.Remaining()/common.BlobLengthSize {
		return nil, fmt.Errorf("item count %d exceeds message size", count)
	}

	items := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		item, err := r.Blob("item")
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after %d items", r.Remaining(), count)
	}

	return &RoundMessage{
		Header:   header,
		BucketID: int(bucketID),
		Step:     int(step),
		Items:    items,
	}, nil
}
