//go:build !windows

package panes

import (
	"fmt"

	"golang.org/x/sys/unix"

	"supervibing/internal/apperr"
)

// Suspend implements suspend_pane via SIGSTOP.
func (r *Registry) Suspend(id string) error {
	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	pid := rec.term.PID()
	if pid <= 0 {
		return apperr.New(apperr.KindPty, fmt.Sprintf("pane %q has no process", id))
	}
	if err := unix.Kill(pid, unix.SIGSTOP); err != nil {
		return apperr.Wrap(apperr.KindPty, "suspend pane", err)
	}
	rec.suspended.Store(true)
	return nil
}

// Resume implements resume_pane via SIGCONT.
func (r *Registry) Resume(id string) error {
	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	pid := rec.term.PID()
	if pid <= 0 {
		return apperr.New(apperr.KindPty, fmt.Sprintf("pane %q has no process", id))
	}
	if err := unix.Kill(pid, unix.SIGCONT); err != nil {
		return apperr.Wrap(apperr.KindPty, "resume pane", err)
	}
	rec.suspended.Store(false)
	return nil
}
