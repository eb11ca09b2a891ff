// Package client is the replica side of jot.v1.RemoteStore: a remote.Backend
// that forwards every call to jotd over gRPC.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/jot/internal/api"
	"github.com/matheus3301/jot/internal/model"
	"github.com/matheus3301/jot/internal/remote"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
)

// Client implements remote.Backend over a gRPC connection.
type Client struct {
	conn grpc.ClientConnInterface
	// closer is set when the client owns the connection.
	closer func() error
}

var _ remote.Backend = (*Client)(nil)

// Dial creates a client for the jotd at target. The connection is
// established lazily on the first call.
func Dial(target string) (*Client, error) {
	conn, err := grpc.NewClient(
		target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial remote store: %w", err)
	}
	return &Client{conn: conn, closer: conn.Close}, nil
}

// New wraps an existing connection. The caller keeps ownership of conn.
func New(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close closes the connection when the client owns it.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *Client) PutUser(ctx context.Context, u model.User) error {
	return c.invoke(ctx, "PutUser", &api.PutUserRequest{User: u}, &api.Empty{})
}

func (c *Client) GetUser(ctx context.Context, id string) (*model.User, error) {
	var resp api.UserResponse
	if err := c.invoke(ctx, "GetUser", &api.GetUserRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

func (c *Client) PutChat(ctx context.Context, ch model.Chat) error {
	return c.invoke(ctx, "PutChat", &api.PutChatRequest{Chat: ch}, &api.Empty{})
}

func (c *Client) PatchChat(ctx context.Context, id string, p model.ChatPatch, now time.Time) (*model.Chat, error) {
	var resp api.ChatResponse
	if err := c.invoke(ctx, "PatchChat", &api.PatchChatRequest{ID: id, Patch: p, Now: now}, &resp); err != nil {
		return nil, err
	}
	return &resp.Chat, nil
}

func (c *Client) DeleteChat(ctx context.Context, id string) error {
	return c.invoke(ctx, "DeleteChat", &api.DeleteChatRequest{ID: id}, &api.Empty{})
}

func (c *Client) ChatsByUser(ctx context.Context, userID string) ([]model.Chat, error) {
	var resp api.ChatsResponse
	if err := c.invoke(ctx, "ChatsByUser", &api.ChatsByUserRequest{UserID: userID}, &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

func (c *Client) PutMessage(ctx context.Context, m model.Message) error {
	return c.invoke(ctx, "PutMessage", &api.PutMessageRequest{Message: m}, &api.Empty{})
}

func (c *Client) MessagesByChat(ctx context.Context, chatID string) ([]model.Message, error) {
	var resp api.MessagesResponse
	if err := c.invoke(ctx, "MessagesByChat", &api.MessagesByChatRequest{ChatID: chatID}, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) SetMessageStatus(ctx context.Context, id string, st model.Status, now time.Time) (*model.Message, error) {
	var resp api.MessageResponse
	if err := c.invoke(ctx, "SetMessageStatus", &api.SetMessageStatusRequest{ID: id, Status: st, Now: now}, &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	err := c.conn.Invoke(ctx, api.FullMethod(method), req, resp, grpc.CallContentSubtype(api.CodecName))
	if err == nil {
		return nil
	}
	st, ok := grpcstatus.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", method, err)
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%s: %s: %w", method, st.Message(), remote.ErrNotFound)
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %s: %w", method, st.Message(), remote.ErrInvalid)
	case codes.Canceled:
		return fmt.Errorf("%s: %w", method, context.Canceled)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", method, context.DeadlineExceeded)
	}
	return fmt.Errorf("%s: %w", method, err)
}
