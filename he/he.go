// Package he carries HTTP status codes on errors.
package he

import (
	"errors"
	"fmt"
	"log"
	"net/http"
)

type HTTPError struct {
	code int
	err  error
}

func HTTPCodedErrorf(code int, f string, more ...any) *HTTPError {
	return &HTTPError{
		code: code,
		err:  fmt.Errorf(f, more...),
	}
}

func New(code int, err error) *HTTPError {
	return &HTTPError{
		code: code,
		err:  err,
	}
}

func (e *HTTPError) Error() string {
	return e.err.Error()
}

func (e *HTTPError) Unwrap() error {
	return e.err
}

func (e *HTTPError) Code() int {
	return e.code
}

// SendErrorToHTTPClient sends err as an HTTP error.  An *HTTPError anywhere
// in the chain picks the status; anything else is a 500, and it's on us.
func SendErrorToHTTPClient(w http.ResponseWriter, while string, err error) {
	code := http.StatusInternalServerError
	var he *HTTPError
	if errors.As(err, &he) {
		code = he.code
	}
	txt := fmt.Sprintf("can't %s: %v", while, err)
	if code >= 500 {
		log.Println(txt)
	}
	http.Error(w, txt, code)
}
