package model

import (
	"path"
	"strings"
)

// Trigger declares the events that start a workflow.
type Trigger struct {
	Push *PushTrigger `json:"push,omitempty" yaml:"push,omitempty"`
}

// PushTrigger filters push events by branch or tag name. Filters accept
// exact names or path.Match globs such as release/*. Empty filters match
// every ref of that kind.
type PushTrigger struct {
	Branches []string `json:"branches,omitempty" yaml:"branches,omitempty"`
	Tags     []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// EventKind discriminates trigger payloads; push is the only built-in kind.
type EventKind string

const (
	EventKindPush = EventKind("push")
)

// Event is a trigger payload. Exactly one of Branch or Tag is set for push
// events; Ref carries the full reference.
type Event struct {
	Kind   EventKind `json:"kind" yaml:"kind"`
	Ref    string    `json:"ref,omitempty" yaml:"ref,omitempty"`
	Branch string    `json:"branch,omitempty" yaml:"branch,omitempty"`
	Tag    string    `json:"tag,omitempty" yaml:"tag,omitempty"`
	Commit string    `json:"commit,omitempty" yaml:"commit,omitempty"`
}

// NewPushEvent builds a push event for a branch or tag reference. Refs of
// the form refs/heads/<branch> and refs/tags/<tag> are recognised; anything
// else is treated as a branch name.
func NewPushEvent(ref, commit string) *Event {
	event := &Event{Kind: EventKindPush, Commit: commit}
	switch {
	case strings.HasPrefix(ref, "refs/heads/"):
		event.Branch = strings.TrimPrefix(ref, "refs/heads/")
		event.Ref = ref
	case strings.HasPrefix(ref, "refs/tags/"):
		event.Tag = strings.TrimPrefix(ref, "refs/tags/")
		event.Ref = ref
	default:
		event.Branch = ref
		event.Ref = "refs/heads/" + ref
	}
	return event
}

// String renders the event in the form run listings display, e.g.
// "push to branch main @4f2a9cc".
func (e *Event) String() string {
	if e == nil {
		return ""
	}
	target := e.Ref
	switch {
	case e.Branch != "":
		target = "branch " + e.Branch
	case e.Tag != "":
		target = "tag " + e.Tag
	}
	ret := string(e.Kind) + " to " + target
	if e.Commit != "" {
		ret += " @" + e.Commit
	}
	return ret
}

// Matches reports whether the event starts workflows carrying this trigger.
// A nil trigger matches any push event.
func (t *Trigger) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if t == nil {
		return event.Kind == EventKindPush
	}
	switch event.Kind {
	case EventKindPush:
		return t.Push.Matches(event)
	}
	return false
}

// Matches reports whether a push event passes the branch/tag filters. With
// both filters empty every push matches; otherwise the event ref kind must
// have a filter and pass it.
func (p *PushTrigger) Matches(event *Event) bool {
	if p == nil {
		return false
	}
	if len(p.Branches) == 0 && len(p.Tags) == 0 {
		return true
	}
	if event.Branch != "" && matchesAny(p.Branches, event.Branch) {
		return true
	}
	if event.Tag != "" && matchesAny(p.Tags, event.Tag) {
		return true
	}
	return false
}

func matchesAny(filters []string, name string) bool {
	for _, filter := range filters {
		if filter == name {
			return true
		}
		if matched, err := path.Match(filter, name); err == nil && matched {
			return true
		}
	}
	return false
}

// Clone creates a deep copy of the trigger
func (t *Trigger) Clone() *Trigger {
	if t == nil {
		return nil
	}
	clone := &Trigger{}
	if t.Push != nil {
		push := &PushTrigger{}
		if t.Push.Branches != nil {
			push.Branches = make([]string, len(t.Push.Branches))
			copy(push.Branches, t.Push.Branches)
		}
		if t.Push.Tags != nil {
			push.Tags = make([]string, len(t.Push.Tags))
			copy(push.Tags, t.Push.Tags)
		}
		clone.Push = push
	}
	return clone
}
