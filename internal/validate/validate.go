package validate

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/victornm/etrivia/internal/errors"
)

const (
	// DateLayout is how users type dates.
	DateLayout = "02/01/2006"
	isoLayout  = "2006-01-02"

	MinAge = 18
)

type Registration struct {
	FirstName string `label:"first name" validate:"required,min=2"`
	LastName  string `label:"last name" validate:"required,min=2"`
	BirthDate string `label:"birth date" validate:"required,birthdate,adult"`
	Email     string `label:"email" validate:"required,email"`
	Password  string `label:"password" validate:"required,min=6"`
}

type Login struct {
	Email    string `label:"email" validate:"required,email"`
	Password string `label:"password" validate:"required"`
}

type ProfileUpdate struct {
	FirstName string `label:"first name" validate:"required,min=2"`
	LastName  string `label:"last name" validate:"required,min=2"`
	BirthDate string `label:"birth date" validate:"omitempty,birthdate,adult"`
	AvatarURL string `label:"avatar" validate:"omitempty,url"`
}

// Validator checks user input before anything is sent over the network.
type Validator struct {
	v   *validator.Validate
	now func() time.Time
}

func New(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if l := f.Tag.Get("label"); l != "" {
			return l
		}
		return f.Name
	})

	val := &Validator{v: v, now: now}
	_ = v.RegisterValidation("birthdate", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(DateLayout, fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("adult", func(fl validator.FieldLevel) bool {
		b, err := time.Parse(DateLayout, fl.Field().String())
		return err == nil && Age(b, val.now()) >= MinAge
	})

	return val
}

// Registration trims the form and validates it.
func (v *Validator) Registration(f Registration) (Registration, error) {
	f.FirstName = strings.TrimSpace(f.FirstName)
	f.LastName = strings.TrimSpace(f.LastName)
	f.BirthDate = strings.TrimSpace(f.BirthDate)
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))
	return f, v.check(f)
}

func (v *Validator) Login(f Login) (Login, error) {
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))
	return f, v.check(f)
}

func (v *Validator) ProfileUpdate(f ProfileUpdate) (ProfileUpdate, error) {
	f.FirstName = strings.TrimSpace(f.FirstName)
	f.LastName = strings.TrimSpace(f.LastName)
	f.BirthDate = strings.TrimSpace(f.BirthDate)
	f.AvatarURL = strings.TrimSpace(f.AvatarURL)
	return f, v.check(f)
}

func (v *Validator) check(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}

	var fes validator.ValidationErrors
	if !stderrors.As(err, &fes) || len(fes) == 0 {
		return errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
	}

	return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%s", message(fes[0])), errors.WithCause(err))
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "email":
		return fmt.Sprintf("%s is not a valid email address", fe.Field())
	case "url":
		return fmt.Sprintf("%s is not a valid URL", fe.Field())
	case "birthdate":
		return fmt.Sprintf("%s must be in DD/MM/YYYY format", fe.Field())
	case "adult":
		return fmt.Sprintf("you must be at least %d years old", MinAge)
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}

// Age is the number of full years between birth and now.
func Age(birth, now time.Time) int {
	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}
	return age
}

// ISODate converts a DD/MM/YYYY date to YYYY-MM-DD.
func ISODate(s string) (string, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid date %q", s), errors.WithCause(err))
	}
	return t.Format(isoLayout), nil
}

// DisplayDate converts a YYYY-MM-DD date back to DD/MM/YYYY. Unparseable input is returned as is.
func DisplayDate(s string) string {
	t, err := time.Parse(isoLayout, s)
	if err != nil {
		return s
	}
	return t.Format(DateLayout)
}
