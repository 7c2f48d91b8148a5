package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a native module has been administratively paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the operation when the named module is paused. A nil view
// means pausing is not configured and everything proceeds.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is a static PauseView backed by a set of module names, typically
// sourced from configuration.
type PauseSet map[string]bool

// NewPauseSet builds a PauseSet from a list of module names.
func NewPauseSet(modules []string) PauseSet {
	set := make(PauseSet, len(modules))
	for _, m := range modules {
		set[m] = true
	}
	return set
}

// IsPaused implements PauseView.
func (s PauseSet) IsPaused(module string) bool { return s[module] }
