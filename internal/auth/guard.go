package auth

import "github.com/sakif/pskb/internal/session"

// Identity is the signed-in user as recorded in the session.
type Identity struct {
	Token string
	Login string
	Name  string
}

// Outcome is the result of Check: either Authorized with an Identity or
// Unauthenticated. Handlers branch on it explicitly at their start.
type Outcome struct {
	identity Identity
	ok       bool
}

// Authorized wraps a signed-in identity.
func Authorized(id Identity) Outcome { return Outcome{identity: id, ok: true} }

// Unauthenticated is the outcome for requests without a session token.
var Unauthenticated = Outcome{}

// Identity returns the identity and whether the request is authorized.
func (o Outcome) Identity() (Identity, bool) { return o.identity, o.ok }

// Check inspects the session. Holding an access token is what makes a
// request authenticated.
func Check(sess *session.Session) Outcome {
	token := sess.Token()
	if token == "" {
		return Unauthenticated
	}
	return Authorized(Identity{Token: token, Login: sess.Login(), Name: sess.Name()})
}
