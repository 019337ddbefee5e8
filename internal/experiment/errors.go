package experiment

import "errors"

// Sentinel errors for the experiment service layer.
var (
	ErrNotFound       = errors.New("experiment not found")
	ErrConfigConflict = errors.New("overlapping active experiments for the same key and targeting")
	ErrNoVariants     = errors.New("experiment has no candidate variants")
	ErrNotActivatable = errors.New("only draft experiments can be activated")
)
