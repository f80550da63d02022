package model

import (
	"errors"
)

// ErrJobNotFound is returned by job lookups when no row matches the id.
var ErrJobNotFound = errors.New("job not found")
