package domain

import "fmt"

type ErrCorruptRepository struct {
	Instance Instance
}

func (e ErrCorruptRepository) Error() string {
	return fmt.Sprintf("invalid repository for %s: no instance info", e.Instance)
}

type ErrZeroAgentID struct {
	Instance Instance
}

func (e ErrZeroAgentID) Error() string {
	return fmt.Sprintf("active agent for %s has zero id", e.Instance)
}

type ErrMissingEvidence struct {
	Instance Instance
	ID       EvidenceID
}

func (e ErrMissingEvidence) Error() string {
	return fmt.Sprintf("evidence %d of %s to be transferred is missing", e.ID, e.Instance)
}

type ErrInvalidFlag struct {
	Field string
	Value int
}

func (e ErrInvalidFlag) Error() string {
	return fmt.Sprintf("flag %s has invalid value %d (want 0 or 1)", e.Field, e.Value)
}

type ErrUnknownStatus struct {
	Status string
}

func (e ErrUnknownStatus) Error() string {
	return fmt.Sprintf("unknown agent status %q", e.Status)
}

type ErrInvalidInstance struct {
	Instance Instance
}

func (e ErrInvalidInstance) Error() string {
	return fmt.Sprintf("invalid instance name %q", e.Instance)
}

type ErrRepository struct {
	Op       string
	Instance Instance
	Err      error
}

func (e ErrRepository) Error() string {
	return fmt.Sprintf("repository %s [%s]: %v", e.Op, e.Instance, e.Err)
}

func (e ErrRepository) Unwrap() error {
	return e.Err
}

type ErrAuthority struct {
	Op  string
	Err error
}

func (e ErrAuthority) Error() string {
	return fmt.Sprintf("authority %s: %v", e.Op, e.Err)
}

func (e ErrAuthority) Unwrap() error {
	return e.Err
}
