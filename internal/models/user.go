package models

// UserProfile is the profile returned by the identity provider's self endpoint
type UserProfile struct {
	UserName  string `json:"user_name"`
	RealName  string `json:"real_name"`
	StudentID string `json:"student_id"`
}

// LoginIdentity is the verified, session-durable record of who is logged in.
// Its presence in the session is the only gate for container provisioning.
type LoginIdentity struct {
	UserName string `json:"user_name"`
}

// Identity promotes a fetched profile to a login identity
func (p *UserProfile) Identity() LoginIdentity {
	return LoginIdentity{UserName: p.UserName}
}
