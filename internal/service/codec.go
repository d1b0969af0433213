package service

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// jsonCodec replaces connect's default "json" codec, which only handles
// protobuf messages, so handlers can exchange plain Go structs.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) { return json.Marshal(msg) }

func (jsonCodec) Unmarshal(data []byte, msg any) error { return json.Unmarshal(data, msg) }

// NewClient returns a unary client for one procedure served by this
// package. baseURL is the server root, e.g. "http://localhost:8080".
func NewClient[Req, Res any](httpClient connect.HTTPClient, baseURL, procedure string, opts ...connect.ClientOption) *connect.Client[Req, Res] {
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return connect.NewClient[Req, Res](httpClient, baseURL+procedure, opts...)
}
