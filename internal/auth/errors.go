package auth

import "errors"

var (
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrExpiredToken  = errors.New("auth: token expired")
	ErrRevokedToken  = errors.New("auth: token revoked")
	ErrUnauthorized  = errors.New("auth: permission denied")
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
)
