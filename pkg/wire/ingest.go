package wire

import (
	"context"

	"google.golang.org/grpc"

	"github.com/forgewatch/forgewatch/pkg/types"
)

// Service and method names.
const (
	ServiceName = "forgewatch.v1.IngestService"
	PushMethod  = "/" + ServiceName + "/Push"
)

// PushRequest carries one reading per machine.
type PushRequest struct {
	AgentID  string      `json:"agentId,omitempty"`
	Readings types.Batch `json:"readings"`
}

// FieldError is one validation failure of a rejected reading.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// PushResponse reports what the server did with each machine's reading.
type PushResponse struct {
	Applied    []string                `json:"applied"`
	Duplicates []string                `json:"duplicates"`
	Rejected   map[string][]FieldError `json:"rejected,omitempty"`
}

// IngestServer is implemented by the server-side receiver.
type IngestServer interface {
	Push(context.Context, *PushRequest) (*PushResponse, error)
}

// RegisterIngestServer registers srv on s.
func RegisterIngestServer(s grpc.ServiceRegistrar, srv IngestServer) {
	s.RegisterService(&IngestServiceDesc, srv)
}

func pushHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PushRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).Push(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PushMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IngestServer).Push(ctx, req.(*PushRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// IngestServiceDesc describes the ingest service to grpc.Server.
var IngestServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Push", Handler: pushHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "forgewatch/v1/ingest",
}

// Client calls the ingest service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Push sends one batch of readings.
func (c *Client) Push(ctx context.Context, in *PushRequest, opts ...grpc.CallOption) (*PushResponse, error) {
	out := new(PushResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, PushMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
