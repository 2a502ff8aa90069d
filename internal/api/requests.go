package api

type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateDocRequest struct {
	Name   string `json:"name"`
	Author string `json:"author"`
}

type CommentRequest struct {
	Author string `json:"author"`
	Text   string `json:"text"`
	Index  int    `json:"index"`
}
