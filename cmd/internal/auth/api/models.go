package authapi

import "time"

type signupRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type signinRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type updateNameRequest struct {
	Name string `json:"name"`
}

type chatCreateRequest struct {
	PeerUsername string `json:"peer_username"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type authResponse struct {
	User userResponse `json:"user"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

type chatResponse struct {
	ChatID    string   `json:"chat_id"`
	Kind      string   `json:"kind"`
	MemberIDs []string `json:"member_ids"`
	LastSeq   int64    `json:"last_seq"`
}

type chatListResponse struct {
	Chats []chatResponse `json:"chats"`
}
