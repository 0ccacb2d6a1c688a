package model

// User is the identity supplied by the OAuth provider.
//
// It is fetched fresh from the provider whenever an identity-requiring
// request needs more than the session's copy of Login and Name (for
// example the commit author email on save). It is never persisted.
type User struct {
	Login string `json:"login"` // stable handle, also the user's branch name
	Name  string `json:"name"`  // display name, may be empty
	Email string `json:"email"` // commit author email, may be empty
}

// DisplayName falls back to Login when the provider has no display name.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Login
}

// CommitEmail is the address used as the commit author. GitHub hides the
// email of many accounts, so fall back to the noreply address.
func (u User) CommitEmail() string {
	if u.Email != "" {
		return u.Email
	}
	return u.Login + "@users.noreply.github.com"
}
