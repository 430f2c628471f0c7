// Package models defines the domain types shared across LurkHub packages.
package models

// User is the authenticated GitHub account.
type User struct {
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// DisplayName returns Name, or Login when the profile has no name.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Login
}

// Repository is the subset of repository metadata LurkHub relies on.
type Repository struct {
	Owner         string      `json:"owner"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	Private       bool        `json:"private"`
	DefaultBranch string      `json:"default_branch,omitempty"`
	HTMLURL       string      `json:"html_url,omitempty"`
	Permissions   Permissions `json:"permissions"`
}

// Permissions reports what the caller may do with a repository.
type Permissions struct {
	Admin bool `json:"admin"`
	Push  bool `json:"push"`
	Pull  bool `json:"pull"`
}
