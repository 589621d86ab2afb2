package domain

// Identity is the (userId, username) pair attached to every inbound command by
// the identity collaborator. The coordinator trusts it as given.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}
