package models

type User struct {
	ID           string `bson:"_id" json:"id"`
	Name         string `bson:"name" json:"name"`
	Email        string `bson:"email" json:"email"`
	PasswordHash string `bson:"passwordHash" json:"-"`
	Avatar       string `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Role         string `bson:"role" json:"role"`
	Phone        string `bson:"phone" json:"phone"`
	Address      string `bson:"address" json:"address"`
}

func (u *User) Owner() *OrderOwner {
	return &OrderOwner{ID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone, Address: u.Address}
}
