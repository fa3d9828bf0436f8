package gateway

import (
	"echoai/pkg/api"
)

// Aliases into the api package so gateway consumers need only one import.
type Channel = api.Channel
type SignalingChannel = api.SignalingChannel
type MessageResponder = api.MessageResponder
type ChannelContext = api.ChannelContext
type UnifiedMessage = api.UnifiedMessage
type FileAttachment = api.FileAttachment
type SessionContext = api.SessionContext
type MessageHandler = api.MessageHandler
