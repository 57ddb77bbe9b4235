package model

import "time"

const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"-"`
	Role         string    `json:"role"`
	StoreID      string    `json:"storeId,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
