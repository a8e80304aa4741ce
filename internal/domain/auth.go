package domain

type Auth struct {
	// SecretRef points to the secret-store entry holding the account password.
	SecretRef string
}

func (a Auth) Configured() bool {
	return a.SecretRef != ""
}
