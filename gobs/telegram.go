// Copyright (c) 2025 BVK Chaitanya

package gobs

// TelegramState keeps the chat ids learned from incoming messages, so
// notifications can be pushed to the authorized users.
type TelegramState struct {
	UserChatIDMap map[string]int64
}
