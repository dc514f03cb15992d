package json

import (
	"net/http"

	gorillarpc "github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
)

// MapperCodec is a JSON-RPC 2.0 codec translating snake case method names to service
// methods.
type MapperCodec struct {
	aliases map[string]string
	codec   *json2.Codec
}

// NewMapperCodec creates a codec resolving method names through aliases.
func NewMapperCodec(aliases map[string]string) *MapperCodec {
	return &MapperCodec{
		aliases: aliases,
		codec:   json2.NewCodec(),
	}
}

// NewRequest implements gorilla rpc Codec.
func (m *MapperCodec) NewRequest(request *http.Request) gorillarpc.CodecRequest {
	return &MapperCodecRequest{
		CodecRequest: m.codec.NewRequest(request),
		aliases:      m.aliases,
	}
}

// MapperCodecRequest resolves aliased method names.
type MapperCodecRequest struct {
	gorillarpc.CodecRequest
	aliases map[string]string
}

// Method returns the service method the request is routed to.
func (m *MapperCodecRequest) Method() (string, error) {
	raw, err := m.CodecRequest.Method()
	if err != nil {
		return "", err
	}
	if alias, ok := m.aliases[raw]; ok {
		return alias, nil
	}
	return raw, nil
}
