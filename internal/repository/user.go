package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/stagedoor/handoff-server-go/internal/model"
)

type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmailOrPhone(ctx context.Context, emailOrPhone string) (*model.User, error)
	Create(ctx context.Context, params model.CreateUserParams) (*model.User, error)
	UpdateStatus(ctx context.Context, id string, status model.UserStatus) error
}

// userDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type userDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type userRepo struct {
	db userDB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		SELECT * FROM users WHERE id = $1
	`, id)
	return HandleNotFound(&user, err)
}

func (r *userRepo) FindByEmailOrPhone(ctx context.Context, emailOrPhone string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		SELECT * FROM users
		WHERE email = $1 OR phone_number = $1
	`, emailOrPhone)
	return HandleNotFound(&user, err)
}

func (r *userRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		INSERT INTO users (email, phone_number, display_name, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, params.Email, params.PhoneNumber, params.DisplayName, params.PasswordHash)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) UpdateStatus(ctx context.Context, id string, status model.UserStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			status = $2,
			updated_at = $3
		WHERE id = $1
	`, id, status, time.Now())
	return err
}
