package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AdminOnlyInterceptor rejects every gRPC call to the setup method,
// whoever the caller is: setup is served only over the HTTP+JSON
// surface, where pkg/node.Setup checks the signer address against the
// admin address. The gRPC surface here only serves health/reflection,
// so in practice this interceptor's job is to make sure no future
// gRPC-exposed method bypasses that admin check.
func AdminOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if isPrivilegedMethod(info.FullMethod) {
			return nil, status.Errorf(codes.PermissionDenied, "setup is only available over the admin-authenticated HTTP surface")
		}
		return handler(ctx, req)
	}
}

func isPrivilegedMethod(method string) bool {
	return method == "/docvault.storagenode/Setup"
}
