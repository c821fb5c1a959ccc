package domain

type Buyer struct {
	ID   string
	Name string
}
