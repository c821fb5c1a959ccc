package domain

import "fmt"

// ProductKey identifies a product. Product names are only unique within the
// company that sells them, so both parts are required.
type ProductKey struct {
	Company string
	Name    string
}

func (k ProductKey) String() string {
	return k.Company + "/" + k.Name
}

func (k ProductKey) Validate() error {
	if k.Company == "" || k.Name == "" {
		return fmt.Errorf("product key requires company and name, got %q/%q", k.Company, k.Name)
	}
	return nil
}

type Product struct {
	Company  string
	Name     string
	Image    string
	Price    float64
	Rank     int
	Quantity int // available stock; mutated only through the inventory ledger
}

func (p Product) Key() ProductKey {
	return ProductKey{Company: p.Company, Name: p.Name}
}
