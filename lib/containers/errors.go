package containers

import "errors"

var (
	ErrNotFound   = errors.New("container not found")
	ErrExtraction = errors.New("layer extraction failed")
)
