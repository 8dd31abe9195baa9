//go:build windows

package panes

import "supervibing/internal/apperr"

// Suspend is unsupported on Windows: ConPTY/pipe-mode children have no
// POSIX job-control signal equivalent to SIGSTOP.
func (r *Registry) Suspend(id string) error {
	if _, err := r.lookup(id); err != nil {
		return err
	}
	return apperr.New(apperr.KindSystem, "suspend_pane not supported on this platform")
}

// Resume is unsupported on Windows for the same reason as Suspend.
func (r *Registry) Resume(id string) error {
	if _, err := r.lookup(id); err != nil {
		return err
	}
	return apperr.New(apperr.KindSystem, "resume_pane not supported on this platform")
}
