package runner

import "errors"

var (
	ErrMount = errors.New("workspace mount failed")
)
