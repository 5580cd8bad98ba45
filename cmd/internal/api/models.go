package api

import (
	"messenger/cmd/internal/rooms"
	v1 "messenger/shared/contracts/realtime/v1"
)

type sendMessageRequest struct {
	Content        *string `json:"content"`
	AttachmentURL  *string `json:"attachmentUrl"`
	AttachmentType *string `json:"attachmentType"`
	ReplyToID      *string `json:"replyToId"`
	// TTL is in seconds.
	TTL int64 `json:"ttl"`
}

type unreadResponse struct {
	RoomID      string `json:"roomId"`
	UnreadCount int64  `json:"unreadCount"`
}

type presenceResponse struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
	Online bool   `json:"online"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type historyResponse struct {
	Messages []v1.Message `json:"messages"`
}

type createRoomRequest struct {
	Type      string   `json:"type"`
	Name      string   `json:"name"`
	MemberIDs []string `json:"memberIds"`
}

type addMemberRequest struct {
	UserID string `json:"userId"`
}

type roomListResponse struct {
	Rooms []rooms.Summary `json:"rooms"`
}
