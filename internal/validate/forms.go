package validate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var formValidate *validator.Validate

func init() {
	formValidate = validator.New()
	_ = formValidate.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		return SanitizeDate(fl.Field().String()) != nil
	})
	// bcrypt rejects passwords over 72 bytes; max counts runes.
	_ = formValidate.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(fl.Param())
		return err == nil && len(fl.Field().String()) <= n
	})
	_ = formValidate.RegisterValidation("nospace", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), " \t\r\n")
	})
}

// SheetHeader is the header block of a new log sheet.
type SheetHeader struct {
	TableName string `validate:"required,max=200"`
	TableDate string `validate:"required,isodate"`
}

// NewUser is the admin form for creating an account.
type NewUser struct {
	FullName string `validate:"max=255"`
	Username string `validate:"required,max=50,nospace"`
	Password string `validate:"required,min=8,maxbytes=72"`
	Role     string `validate:"required,oneof=admin user"`
}

// LoginForm is the sign-in form.
type LoginForm struct {
	Username string `validate:"required,max=50"`
	Password string `validate:"required,maxbytes=72"`
}

// Errors is returned by Struct with one message per failing field.
type Errors []string

func (e Errors) Error() string {
	return strings.Join(e, "; ")
}

// First returns the first message, matching what the UI shows.
func (e Errors) First() string {
	if len(e) == 0 {
		return ""
	}
	return e[0]
}

// Struct validates v against its validate tags.
func Struct(v interface{}) error {
	err := formValidate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(Errors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, message(fe))
	}
	return out
}

func message(fe validator.FieldError) string {
	label := labels[fe.Field()]
	if label == "" {
		label = fe.Field()
	}
	switch fe.Tag() {
	case "required":
		return label + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters long", label, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", label, fe.Param())
	case "maxbytes":
		return fmt.Sprintf("%s must be at most %s bytes long", label, fe.Param())
	case "oneof":
		return "Invalid " + strings.ToLower(label)
	case "isodate":
		return label + " must be a valid date (YYYY-MM-DD)"
	case "nospace":
		return label + " must not contain spaces"
	default:
		return label + " is invalid"
	}
}

var labels = map[string]string{
	"TableName": "Table name",
	"TableDate": "Table date",
	"FullName":  "Full name",
	"Username":  "Username",
	"Password":  "Password",
	"Role":      "Role",
}
