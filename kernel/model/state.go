package model

import "time"

// ResourceState is what the inspector observed for one resource.
type ResourceState struct {
	Ref       Ref       `json:"ref"`
	Exists    bool      `json:"exists"`
	Hash      string    `json:"hash,omitempty"`
	Size      int64     `json:"size,omitempty"`
	Enabled   bool      `json:"enabled"`
	Active    bool      `json:"active"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// Absent is the state the diff engine assumes for unreadable resources.
func Absent(ref Ref, err error) ResourceState {
	s := ResourceState{Ref: ref, CheckedAt: time.Now()}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

func (s ResourceState) Readable() bool {
	return s.Error == ""
}
