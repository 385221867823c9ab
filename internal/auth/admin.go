package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Admin is an operator account for the job console.
type Admin struct {
	ID           string    `gorm:"primaryKey;type:text"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already used")
)

const MinPasswordLen = 8

func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func CreateAdmin(ctx context.Context, db *gorm.DB, email, password string) (*Admin, error) {
	email = NormalizeEmail(email)
	if email == "" || len(password) < MinPasswordLen {
		return nil, fmt.Errorf("email required and password must be at least %d characters", MinPasswordLen)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	db = db.WithContext(ctx)
	var n int64
	if err := db.Model(&Admin{}).Where("email = ?", email).Count(&n).Error; err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, ErrEmailTaken
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	a := Admin{ID: id.String(), Email: email, PasswordHash: hash}
	if err := db.Create(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// Authenticate returns the admin for a matching email and password.
func Authenticate(ctx context.Context, db *gorm.DB, email, password string) (*Admin, error) {
	var a Admin
	err := db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !ComparePassword(a.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return &a, nil
}
