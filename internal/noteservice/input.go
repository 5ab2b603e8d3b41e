package noteservice

import (
	"fmt"
	"io"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/blobnotes/internal/apperr"
)

// Upload is an optional file supplied with a create or update.
type Upload struct {
	Filename string
	Body     io.Reader
}

// present reports whether the upload carries a usable filename.
func (u *Upload) present() bool {
	return u != nil && u.Filename != ""
}

// NoteInput is the validated payload of a create or update request.
type NoteInput struct {
	Title   string
	Content string
	File    *Upload
}

// CreateInput is the payload for Create.
type CreateInput = NoteInput

// UpdateInput is the payload for Update.
type UpdateInput = NoteInput

// Validate checks required fields. Errors wrap apperr.ErrValidation.
func (in NoteInput) Validate() error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.By(notBlank)),
		validation.Field(&in.Content, validation.By(notBlank)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return nil
}

func notBlank(value any) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return validation.NewError("validation_required", "cannot be blank")
	}
	return nil
}
