package domain

type AccountID string

type Account struct {
	ID    AccountID
	Name  string
	Email string
	Auth  Auth
}
