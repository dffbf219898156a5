package transfer

import "fmt"

// SessionError means the engine session itself could not be opened.
type SessionError struct {
	Engine string
	Err    error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("failed to open %s session: %v", e.Engine, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// SubmissionError means the engine rejected the magnet link or could not resolve its metadata.
type SubmissionError struct {
	Engine string
	Reason string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s rejected transfer: %s: %v", e.Engine, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s rejected transfer: %s", e.Engine, e.Reason)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// IOError means an accepted transfer failed while moving bytes.
type IOError struct {
	Engine string
	Name   string // transfer name, may be empty before metadata is known
	Err    error
}

func (e *IOError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s transfer %q failed: %v", e.Engine, e.Name, e.Err)
	}
	return fmt.Sprintf("%s transfer failed: %v", e.Engine, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
