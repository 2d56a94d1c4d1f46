package domain

// Profile is the user profile published by the Identity Server.
type Profile struct {
	Subject  string   `json:"subject"`
	Username string   `json:"username"`
	Name     string   `json:"name,omitempty"`
	Email    string   `json:"email,omitempty"`
	Phone    string   `json:"phone,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}
