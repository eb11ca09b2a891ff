package model

import "time"

// ChatPatch is a partial chat update. Nil fields are left unchanged.
type ChatPatch struct {
	Name            *string    `json:"name,omitempty"`
	LastMessage     *string    `json:"lastMessage,omitempty"`
	LastMessageTime *time.Time `json:"lastMessageTime,omitempty"`
	UnreadCount     *int       `json:"unreadCount,omitempty"`
	ProfilePic      *string    `json:"profilePic,omitempty"`
}

// ChatPatchFrom builds a patch carrying every mutable field of c.
func ChatPatchFrom(c Chat) ChatPatch {
	return ChatPatch{
		Name:            &c.Name,
		LastMessage:     &c.LastMessage,
		LastMessageTime: &c.LastMessageTime,
		UnreadCount:     &c.UnreadCount,
		ProfilePic:      &c.ProfilePic,
	}
}

// PreviewPatch updates only the denormalized last-message fields.
func PreviewPatch(text string, at time.Time) ChatPatch {
	return ChatPatch{LastMessage: &text, LastMessageTime: &at}
}

// IsEmpty reports whether the patch changes nothing.
func (p ChatPatch) IsEmpty() bool {
	return p.Name == nil && p.LastMessage == nil && p.LastMessageTime == nil &&
		p.UnreadCount == nil && p.ProfilePic == nil
}

// Apply copies the supplied fields onto c. UpdatedAt is left to the caller.
func (p ChatPatch) Apply(c *Chat) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.LastMessage != nil {
		c.LastMessage = *p.LastMessage
	}
	if p.LastMessageTime != nil {
		c.LastMessageTime = *p.LastMessageTime
	}
	if p.UnreadCount != nil {
		c.UnreadCount = *p.UnreadCount
	}
	if p.ProfilePic != nil {
		c.ProfilePic = *p.ProfilePic
	}
}
