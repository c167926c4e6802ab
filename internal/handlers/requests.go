package handlers

import (
	"github.com/go-playground/validator/v10"
)

// CustomValidator wraps the go-playground/validator library to implement Echo's Validator interface.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new CustomValidator.
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate implements the echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// CreateChatRequest is the body of POST /api/chats. The caller is always
// added as a participant.
type CreateChatRequest struct {
	Name         string   `json:"name" validate:"required,max=100"`
	Participants []string `json:"participants" validate:"max=100,dive,required,max=128"`
}

// PostMessageRequest is the body of POST /api/chats/:id/messages.
type PostMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

// AddParticipantRequest is the body of POST /api/chats/:id/participants.
type AddParticipantRequest struct {
	UserID string `json:"userId" validate:"required,max=128"`
}
