package auth

import "fmt"

// SignInError reports a failed credential exchange. Either the server
// rejected it (StatusCode set) or the request never completed (Err set).
type SignInError struct {
	StatusCode int
	Status     string
	Body       string
	Err        error
}

func (e *SignInError) Error() string {
	if e == nil {
		return "sign-in failed"
	}
	switch {
	case e.Err != nil:
		return fmt.Sprintf("sign-in failed: %v", e.Err)
	case e.Status != "":
		return "sign-in failed: " + e.Status
	default:
		return "sign-in failed: response carried no token"
	}
}

func (e *SignInError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
