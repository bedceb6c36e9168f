package model

import "time"

type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PhoneNumber  *string    `db:"phone_number" json:"phoneNumber,omitempty"`
	DisplayName  string     `db:"display_name" json:"displayName"`
	AvatarURL    *string    `db:"avatar_url" json:"avatarUrl,omitempty"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         UserRole   `db:"role" json:"role"`
	Status       UserStatus `db:"status" json:"status"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
}

// PublicUser is the profile projection pushed to an unauthenticated primary
// device while it waits for confirmation ("logging in as X").
type PublicUser struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}

type CreateUserParams struct {
	Email        string
	PhoneNumber  *string
	DisplayName  string
	PasswordHash string
}
