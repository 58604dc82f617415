package storage

// ContentCodec transforms serialized document bytes on their way to and from
// the backing store. It is applied after JSON serialization on writes and
// before parsing on reads, so an encrypting codec sees the full payload and
// the store stays agnostic to what the transform actually does.
type ContentCodec interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

type passthroughCodec struct{}

func (passthroughCodec) Encode(data []byte) ([]byte, error) { return data, nil }
func (passthroughCodec) Decode(data []byte) ([]byte, error) { return data, nil }

// PassthroughCodec stores document bytes unchanged. It is the default codec
// for every backend.
func PassthroughCodec() ContentCodec { return passthroughCodec{} }
