package model

import "time"

// Customer is a registered buyer.  Rows are owned by the
// registration flow; the purchase workflow only reads them to get
// the billing contact handed to the payment gateway.
//
// Fields:
//  ID        – primary key identifier.
//  Address   – postal address.
//  Phone     – contact phone number.
//  UserID    – linked user account.
//  User      – name and email of the linked account.
//  CreatedAt – creation timestamp.
type Customer struct {
	ID        uint64    // customers.id
	Address   string    // customers.address
	Phone     string    // customers.phone
	UserID    uint64    // customers.user_id
	User      User      // joined from users
	CreatedAt time.Time // customers.created_at
}

// User holds the account fields of a customer that the core needs.
type User struct {
	ID    uint64 // users.id
	Name  string // users.name
	Email string // users.email
}
