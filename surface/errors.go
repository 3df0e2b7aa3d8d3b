package surface

import (
	"github.com/pkg/errors"
)

var (
	// ErrInvalidSettings is returned for settings that fail validation.
	ErrInvalidSettings = errors.New("invalid surface settings")
	// ErrGenerationFailed marks a generation task that could not produce a mesh.
	ErrGenerationFailed = errors.New("surface generation failed")
	// ErrOutOfMemory is returned when a generation would not fit in the memory budget even after
	// the cache has been emptied.
	ErrOutOfMemory = errors.New("surface generation exceeds memory budget")
	// ErrUnknownGrid is returned for a request naming a grid the generator does not know.
	ErrUnknownGrid = errors.New("unknown grid")
)
