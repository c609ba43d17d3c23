package models

// Product is a catalog entry. Price is in the store currency; dimensions are
// optional but required for shipping quotes (weight in kg, sizes in cm).
type Product struct {
	ID          string   `bson:"_id" json:"id"`
	Name        string   `bson:"name" json:"name"`
	Slug        string   `bson:"slug" json:"slug"`
	Description string   `bson:"description" json:"description"`
	Price       float64  `bson:"price" json:"price"`
	Stock       int      `bson:"stock" json:"stock"`
	Image       string   `bson:"image,omitempty" json:"image,omitempty"`
	Category    string   `bson:"category" json:"category"`
	Color       string   `bson:"color" json:"color"`
	Model       string   `bson:"model" json:"model"`
	Weight      *float64 `bson:"weight,omitempty" json:"weight,omitempty"`
	Width       *float64 `bson:"width,omitempty" json:"width,omitempty"`
	Height      *float64 `bson:"height,omitempty" json:"height,omitempty"`
	Length      *float64 `bson:"length,omitempty" json:"length,omitempty"`
}

// HasDimensions reports whether every shipping dimension is set and positive.
func (p *Product) HasDimensions() bool {
	for _, d := range []*float64{p.Weight, p.Width, p.Height, p.Length} {
		if d == nil || *d <= 0 {
			return false
		}
	}
	return true
}
