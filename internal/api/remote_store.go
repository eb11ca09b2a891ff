// Package api exposes the remote record store: the jot.v1.RemoteStore gRPC
// service used by replicas and a read-only HTTP admin surface.
package api

import (
	"context"
	"errors"

	"github.com/matheus3301/jot/internal/remote"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "jot.v1.RemoteStore"

// FullMethod returns the invocation path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// RemoteStoreServer is the server side of jot.v1.RemoteStore.
type RemoteStoreServer interface {
	PutUser(context.Context, *PutUserRequest) (*Empty, error)
	GetUser(context.Context, *GetUserRequest) (*UserResponse, error)
	PutChat(context.Context, *PutChatRequest) (*Empty, error)
	PatchChat(context.Context, *PatchChatRequest) (*ChatResponse, error)
	DeleteChat(context.Context, *DeleteChatRequest) (*Empty, error)
	ChatsByUser(context.Context, *ChatsByUserRequest) (*ChatsResponse, error)
	PutMessage(context.Context, *PutMessageRequest) (*Empty, error)
	MessagesByChat(context.Context, *MessagesByChatRequest) (*MessagesResponse, error)
	SetMessageStatus(context.Context, *SetMessageStatusRequest) (*MessageResponse, error)
}

// RemoteStoreServiceDesc describes jot.v1.RemoteStore for grpc.Server.
var RemoteStoreServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RemoteStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("PutUser", RemoteStoreServer.PutUser),
		unary("GetUser", RemoteStoreServer.GetUser),
		unary("PutChat", RemoteStoreServer.PutChat),
		unary("PatchChat", RemoteStoreServer.PatchChat),
		unary("DeleteChat", RemoteStoreServer.DeleteChat),
		unary("ChatsByUser", RemoteStoreServer.ChatsByUser),
		unary("PutMessage", RemoteStoreServer.PutMessage),
		unary("MessagesByChat", RemoteStoreServer.MessagesByChat),
		unary("SetMessageStatus", RemoteStoreServer.SetMessageStatus),
	},
	Metadata: "jot/v1/remote_store",
}

// RegisterRemoteStoreServer registers srv on s.
func RegisterRemoteStoreServer(s grpc.ServiceRegistrar, srv RemoteStoreServer) {
	s.RegisterService(&RemoteStoreServiceDesc, srv)
}

func unary[Req, Resp any](name string, call func(RemoteStoreServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(RemoteStoreServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

// RemoteStoreService serves a remote.Backend over gRPC.
type RemoteStoreService struct {
	backend remote.Backend
	logger  *zap.Logger
}

var _ RemoteStoreServer = (*RemoteStoreService)(nil)

// NewRemoteStoreService creates the service over backend.
func NewRemoteStoreService(backend remote.Backend, logger *zap.Logger) *RemoteStoreService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteStoreService{backend: backend, logger: logger}
}

func (s *RemoteStoreService) PutUser(ctx context.Context, req *PutUserRequest) (*Empty, error) {
	if err := s.backend.PutUser(ctx, req.User); err != nil {
		return nil, s.toStatus("PutUser", err)
	}
	return &Empty{}, nil
}

func (s *RemoteStoreService) GetUser(ctx context.Context, req *GetUserRequest) (*UserResponse, error) {
	u, err := s.backend.GetUser(ctx, req.ID)
	if err != nil {
		return nil, s.toStatus("GetUser", err)
	}
	return &UserResponse{User: *u}, nil
}

func (s *RemoteStoreService) PutChat(ctx context.Context, req *PutChatRequest) (*Empty, error) {
	if err := s.backend.PutChat(ctx, req.Chat); err != nil {
		return nil, s.toStatus("PutChat", err)
	}
	return &Empty{}, nil
}

func (s *RemoteStoreService) PatchChat(ctx context.Context, req *PatchChatRequest) (*ChatResponse, error) {
	c, err := s.backend.PatchChat(ctx, req.ID, req.Patch, req.Now)
	if err != nil {
		return nil, s.toStatus("PatchChat", err)
	}
	return &ChatResponse{Chat: *c}, nil
}

func (s *RemoteStoreService) DeleteChat(ctx context.Context, req *DeleteChatRequest) (*Empty, error) {
	if err := s.backend.DeleteChat(ctx, req.ID); err != nil {
		return nil, s.toStatus("DeleteChat", err)
	}
	return &Empty{}, nil
}

func (s *RemoteStoreService) ChatsByUser(ctx context.Context, req *ChatsByUserRequest) (*ChatsResponse, error) {
	chats, err := s.backend.ChatsByUser(ctx, req.UserID)
	if err != nil {
		return nil, s.toStatus("ChatsByUser", err)
	}
	return &ChatsResponse{Chats: chats}, nil
}

func (s *RemoteStoreService) PutMessage(ctx context.Context, req *PutMessageRequest) (*Empty, error) {
	if err := s.backend.PutMessage(ctx, req.Message); err != nil {
		return nil, s.toStatus("PutMessage", err)
	}
	return &Empty{}, nil
}

func (s *RemoteStoreService) MessagesByChat(ctx context.Context, req *MessagesByChatRequest) (*MessagesResponse, error) {
	msgs, err := s.backend.MessagesByChat(ctx, req.ChatID)
	if err != nil {
		return nil, s.toStatus("MessagesByChat", err)
	}
	return &MessagesResponse{Messages: msgs}, nil
}

func (s *RemoteStoreService) SetMessageStatus(ctx context.Context, req *SetMessageStatusRequest) (*MessageResponse, error) {
	m, err := s.backend.SetMessageStatus(ctx, req.ID, req.Status, req.Now)
	if err != nil {
		return nil, s.toStatus("SetMessageStatus", err)
	}
	return &MessageResponse{Message: *m}, nil
}

func (s *RemoteStoreService) toStatus(method string, err error) error {
	switch {
	case errors.Is(err, remote.ErrNotFound):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, remote.ErrInvalid):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.FromContextError(err).Err()
	}
	s.logger.Error("remote store call failed", zap.String("method", method), zap.Error(err))
	return grpcstatus.Errorf(codes.Internal, "%s: %v", method, err)
}
