package ws

import (
	"github.com/walletd/walletd/internal/session"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgNavigate MessageType = "navigate"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	State session.Snapshot `json:"state"`
}

type NavigatePayload struct {
	Path string `json:"path"`
}
