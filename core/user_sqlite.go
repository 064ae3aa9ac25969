package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type SQLiteUserStore struct {
	db *sql.DB
}

func NewSQLiteUserStore(db *sql.DB) *SQLiteUserStore {
	return &SQLiteUserStore{
		db: db,
	}
}

func (s *SQLiteUserStore) CreateUser(ctx context.Context, user User) (string, error) {
	if user.Username == "" || user.Password == "" {
		return "", ErrInvalidUser
	}

	eu, err := s.GetUserByUsername(ctx, user.Username)
	if err != nil {
		return "", fmt.Errorf("checking if user exists: %w", err)
	}
	if eu != nil {
		return "", ErrConflictedUser
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.DisplayName == "" {
		user.DisplayName = user.Username
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, display_name, password) VALUES (@id, @username, @display_name, @password)",
		sql.Named("id", user.ID), sql.Named("username", user.Username),
		sql.Named("display_name", user.DisplayName), sql.Named("password", string(hashed)))
	if err != nil {
		return "", fmt.Errorf("creating user: %w", err)
	}

	return user.ID, nil
}

func (s *SQLiteUserStore) queryUser(ctx context.Context, column, value string) (*UserWithoutSecrets, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, username, display_name FROM users WHERE "+column+" = @value LIMIT 1", sql.Named("value", value))

	user := new(UserWithoutSecrets)
	if err := row.Scan(&user.ID, &user.Username, &user.DisplayName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return user, nil
}

func (s *SQLiteUserStore) Lookup(ctx context.Context, userID string) (*UserWithoutSecrets, error) {
	return s.queryUser(ctx, "id", userID)
}

func (s *SQLiteUserStore) GetUserByUsername(ctx context.Context, username string) (*UserWithoutSecrets, error) {
	return s.queryUser(ctx, "username", username)
}

func (s *SQLiteUserStore) ComparePassword(ctx context.Context, username, password string) (bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT password FROM users WHERE username = @username LIMIT 1",
		sql.Named("username", username))

	var storedPassword string
	if err := row.Scan(&storedPassword); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrInvalidUser
		}
		return false, fmt.Errorf("scanning password: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(storedPassword), []byte(password)); err != nil {
		return false, nil
	}

	return true, nil
}
