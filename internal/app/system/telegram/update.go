package telegram

// Update is the subset of a Bot API webhook update this service reads.
type Update struct {
	UpdateID   int64              `json:"update_id"`
	ChatMember *ChatMemberUpdated `json:"chat_member,omitempty"`
}

// ChatMemberUpdated reports a change in a chat member's status.
type ChatMemberUpdated struct {
	Chat          Chat            `json:"chat"`
	From          User            `json:"from"`
	Date          int64           `json:"date"`
	OldChatMember ChatMember      `json:"old_chat_member"`
	NewChatMember ChatMember      `json:"new_chat_member"`
	InviteLink    *ChatInviteLink `json:"invite_link,omitempty"`
}

// Chat identifies a chat.
type Chat struct {
	ID int64 `json:"id"`
}

// User identifies a Telegram user.
type User struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot"`
	Username string `json:"username,omitempty"`
}

// ChatMember is a member's status in a chat. IsMember is only sent for the
// "restricted" status.
type ChatMember struct {
	Status   string `json:"status"`
	User     User   `json:"user"`
	IsMember bool   `json:"is_member,omitempty"`
}

// ChatInviteLink is the invite used to join, when Telegram reports one.
type ChatInviteLink struct {
	InviteLink string `json:"invite_link"`
}
