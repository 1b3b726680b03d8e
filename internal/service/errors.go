package service

import "errors"

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码。
var (
	ErrInvalidCredentials = errors.New("invalid credentials")

	// 校验错误（400）。
	ErrInvalidMembership  = errors.New("exactly two distinct members required")
	ErrChannelRequired    = errors.New("channel required")
	ErrTextRequired       = errors.New("text required")
	ErrInvalidType        = errors.New("unsupported message type")
	ErrAttachmentRequired = errors.New("audio or upload required")
	ErrSignalInvalid      = errors.New("missing 'to' or 'payload'")
	ErrInvalidChannelType = errors.New("type must be 'dm'")
	ErrUnknownMember      = errors.New("unknown member")

	ErrForbidden = errors.New("forbidden")

	ErrChannelNotFound = errors.New("channel not found")
	ErrMessageNotFound = errors.New("message not found")
)
