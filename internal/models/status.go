package models

import "fmt"

// PipelineStatus is the lifecycle state of a Pipeline.
type PipelineStatus string

const (
	StatusDraft     PipelineStatus = "draft"
	StatusApproved  PipelineStatus = "approved"
	StatusRejected  PipelineStatus = "rejected"
	StatusPublished PipelineStatus = "published"
)

// transitions lists every legal edge. published->published is re-publication.
var transitions = map[PipelineStatus][]PipelineStatus{
	StatusDraft:     {StatusApproved, StatusRejected},
	StatusApproved:  {StatusPublished},
	StatusPublished: {StatusPublished},
}

// Valid reports whether s is one of the known states.
func (s PipelineStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusApproved, StatusRejected, StatusPublished:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s PipelineStatus) CanTransitionTo(next PipelineStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Publishable reports whether platforms may be attempted in this state.
func (s PipelineStatus) Publishable() bool {
	return s.CanTransitionTo(StatusPublished)
}

// ParseStatus converts user input into a PipelineStatus.
func ParseStatus(value string) (PipelineStatus, error) {
	s := PipelineStatus(value)
	if !s.Valid() {
		return "", fmt.Errorf("unknown pipeline status %q", value)
	}
	return s, nil
}
