package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// BuildRequest mirrors builder.BuildRequest for the wire; it is a plain
// struct rather than a generated protobuf message because the connection
// uses the json codec registered in codec.go.
type BuildRequest struct {
	BuilderID    string
	SourceOID    string
	RuntimeABI   string
	Platform     string
	BuildOptions map[string]string
	// InputPath is a path to the source archive as seen by the build node;
	// no archive bytes travel in the request, so the source must already
	// be present there (e.g. a shared cache).
	InputPath string
}

// BuildResult is returned once the remote build finishes.
type BuildResult struct {
	PkgBuildOID string
	// ArtifactManifest lists the normalized tree entries so the caller can
	// reconstruct internal/canon.TreeEntry without a second round trip.
	ArtifactManifest []byte
	Log              string
}

const serviceName = "px.builder.Builder"

// builderServer is the server-side interface buildHandler dispatches to;
// this repository ships no implementation of it.
type builderServer interface {
	Build(ctx context.Context, req *BuildRequest) (*BuildResult, error)
}

func buildHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(BuildRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(builderServer).Build(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Build"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(builderServer).Build(ctx, req.(*BuildRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// ServiceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit for a one-method "Builder" service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*builderServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Build", Handler: buildHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "px/builder/rpc/service.proto",
}

// RegisterBuilderServer attaches impl to srv under the Builder service name.
func RegisterBuilderServer(srv *grpc.Server, impl builderServer) {
	srv.RegisterService(&ServiceDesc, impl)
}

// BuilderClient is a thin typed wrapper over grpc.ClientConn.Invoke using
// the json codec, mirroring distri's generated bpb.BuildClient.
type BuilderClient struct {
	cc *grpc.ClientConn
}

func NewBuilderClient(cc *grpc.ClientConn) *BuilderClient {
	return &BuilderClient{cc: cc}
}

func (c *BuilderClient) Build(ctx context.Context, req *BuildRequest) (*BuildResult, error) {
	result := new(BuildResult)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Build", req, result, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return result, nil
}

// DialOption returns the dial option that makes new client connections
// default to the json codec, so callers don't have to pass
// CallContentSubtype on every Invoke.
func DialOption() grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName))
}
