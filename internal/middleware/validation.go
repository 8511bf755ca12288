package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// MaxPageSize caps the limit query parameter.
const MaxPageSize = 100

var validate = validator.New()

// PageQuery holds pagination query parameters.
type PageQuery struct {
	Limit  int `validate:"gte=0,lte=100"`
	Offset int `validate:"gte=0"`
}

// ParsePage reads limit and offset from the query string.
func ParsePage(r *http.Request) (PageQuery, error) {
	var q PageQuery
	var err error
	if v := r.URL.Query().Get("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil {
			return q, errors.New("limit must be an integer")
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if q.Offset, err = strconv.Atoi(v); err != nil {
			return q, errors.New("offset must be an integer")
		}
	}
	if err := validate.Struct(q); err != nil {
		return q, fmt.Errorf("limit must be between 0 and %d and offset must not be negative", MaxPageSize)
	}
	return q, nil
}

// ValidateID parses a positive numeric record id.
func ValidateID(raw, name string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return uint(id), nil
}
