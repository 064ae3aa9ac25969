package router

import (
	"encoding/json"
	"fmt"
	"io"
)

// Error is an error that knows how to render itself as a response.
type Error interface {
	error
	StatusCode() int
	Encode(w io.Writer) error
}

// JsonError is rendered as {"code": ..., "error": ...}.
type JsonError struct {
	Code int    `json:"code"`
	Err  string `json:"error"`
}

func NewJsonError(code int, err string) JsonError {
	return JsonError{Code: code, Err: err}
}

// Errorf formats the message of a JsonError.
func Errorf(code int, format string, args ...any) JsonError {
	return JsonError{Code: code, Err: fmt.Sprintf(format, args...)}
}

func (e JsonError) StatusCode() int { return e.Code }

func (e JsonError) Error() string { return e.Err }

func (e JsonError) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(e)
}
