package api

import (
	"time"

	"github.com/matheus3301/jot/internal/model"
)

// Empty is the response of calls that return nothing.
type Empty struct{}

type PutUserRequest struct {
	User model.User `json:"user"`
}

type GetUserRequest struct {
	ID string `json:"id"`
}

type UserResponse struct {
	User model.User `json:"user"`
}

type PutChatRequest struct {
	Chat model.Chat `json:"chat"`
}

type PatchChatRequest struct {
	ID    string          `json:"id"`
	Patch model.ChatPatch `json:"patch"`
	Now   time.Time       `json:"now"`
}

type ChatResponse struct {
	Chat model.Chat `json:"chat"`
}

type DeleteChatRequest struct {
	ID string `json:"id"`
}

type ChatsByUserRequest struct {
	UserID string `json:"userId"`
}

type ChatsResponse struct {
	Chats []model.Chat `json:"chats"`
}

type PutMessageRequest struct {
	Message model.Message `json:"message"`
}

type MessagesByChatRequest struct {
	ChatID string `json:"chatId"`
}

type MessagesResponse struct {
	Messages []model.Message `json:"messages"`
}

type SetMessageStatusRequest struct {
	ID     string       `json:"id"`
	Status model.Status `json:"status"`
	Now    time.Time    `json:"now"`
}

type MessageResponse struct {
	Message model.Message `json:"message"`
}
