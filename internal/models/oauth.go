package models

// PendingAuthorization holds the anti-forgery and proof-of-possession
// material of a login that has been sent to the identity provider but has
// not come back yet. It lives for exactly one round trip.
type PendingAuthorization struct {
	CSRFToken    string `json:"csrf"`
	PKCEVerifier string `json:"pkce"`
}

// Complete reports whether both halves of the pending state are present
func (p PendingAuthorization) Complete() bool {
	return p.CSRFToken != "" && p.PKCEVerifier != ""
}
