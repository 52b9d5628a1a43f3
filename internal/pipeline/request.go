package pipeline

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"pdfsqueeze/internal/config"
)

// ErrInvalidRequest wraps every parameter validation failure
var ErrInvalidRequest = errors.New("invalid request")

// Request is one submission: the uploaded archive, its secret and the
// recompression knobs. Zero Quality and Scale select the defaults.
// ID labels the run in logs and published results; a random one is used when empty.
type Request struct {
	ID          string
	Archive     []byte  `validate:"required,min=1"`
	ArchiveName string  `validate:"omitempty,max=255"`
	Secret      string
	Quality     int     `validate:"min=10,max=95"`
	Scale       float64 `validate:"min=1,max=3"`
}

var validate = validator.New()

// normalize fills defaults and rounds scale to the 0.1 step before validation
func (r Request) normalize(defaultQuality int, defaultScale float64) Request {
	if r.Quality == 0 {
		r.Quality = defaultQuality
	}
	if r.Scale == 0 {
		r.Scale = defaultScale
	}
	r.Scale = math.Round(r.Scale*10) / 10
	if r.ArchiveName == "" {
		r.ArchiveName = "archive.zip"
	}
	return r
}

// Validate normalizes r and checks its bounds
func (r Request) Validate(defaultQuality int, defaultScale float64) (Request, error) {
	if defaultQuality == 0 {
		defaultQuality = config.DefaultQuality
	}
	if defaultScale == 0 {
		defaultScale = config.DefaultScale
	}
	n := r.normalize(defaultQuality, defaultScale)
	if err := validate.Struct(n); err != nil {
		return n, fmt.Errorf("%w: %s", ErrInvalidRequest, describe(err))
	}
	return n, nil
}

// describe flattens validator errors into field-level messages
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch {
		case fe.Tag() == "required", fe.Field() == "Archive":
			msgs = append(msgs, strings.ToLower(fe.Field())+" is required")
		case fe.Tag() == "min", fe.Tag() == "max":
			msgs = append(msgs, fmt.Sprintf("%s must be between %s", strings.ToLower(fe.Field()), bounds(fe.Field())))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func bounds(field string) string {
	switch field {
	case "Quality":
		return fmt.Sprintf("%d and %d", config.MinQuality, config.MaxQuality)
	case "Scale":
		return fmt.Sprintf("%.1f and %.1f", config.MinScale, config.MaxScale)
	}
	return "its limits"
}
