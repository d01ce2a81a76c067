package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPushEvent(t *testing.T) {
	testCases := []struct {
		description string
		ref         string
		commit      string
		expect      *Event
	}{
		{
			description: "branch ref",
			ref:         "refs/heads/main",
			expect:      &Event{Kind: EventKindPush, Branch: "main", Ref: "refs/heads/main"},
		},
		{
			description: "tag ref",
			ref:         "refs/tags/v1.2.3",
			expect:      &Event{Kind: EventKindPush, Tag: "v1.2.3", Ref: "refs/tags/v1.2.3"},
		},
		{
			description: "bare branch name",
			ref:         "feature/cache",
			commit:      "4f2a9cc",
			expect:      &Event{Kind: EventKindPush, Branch: "feature/cache", Ref: "refs/heads/feature/cache", Commit: "4f2a9cc"},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			assert.EqualValues(t, testCase.expect, NewPushEvent(testCase.ref, testCase.commit))
		})
	}
}

func TestTrigger_Matches(t *testing.T) {
	testCases := []struct {
		description string
		trigger     *Trigger
		event       *Event
		expect      bool
	}{
		{
			description: "nil trigger matches any push",
			event:       NewPushEvent("anything", ""),
			expect:      true,
		},
		{
			description: "nil event never matches",
			trigger:     &Trigger{Push: &PushTrigger{}},
			expect:      false,
		},
		{
			description: "empty push trigger matches every push",
			trigger:     &Trigger{Push: &PushTrigger{}},
			event:       NewPushEvent("refs/heads/dev", ""),
			expect:      true,
		},
		{
			description: "trigger without push block matches nothing",
			trigger:     &Trigger{},
			event:       NewPushEvent("main", ""),
			expect:      false,
		},
		{
			description: "exact branch filter",
			trigger:     &Trigger{Push: &PushTrigger{Branches: []string{"main"}}},
			event:       NewPushEvent("main", ""),
			expect:      true,
		},
		{
			description: "branch filter rejects other branches",
			trigger:     &Trigger{Push: &PushTrigger{Branches: []string{"main"}}},
			event:       NewPushEvent("dev", ""),
			expect:      false,
		},
		{
			description: "glob branch filter",
			trigger:     &Trigger{Push: &PushTrigger{Branches: []string{"release/*"}}},
			event:       NewPushEvent("release/2026-08", ""),
			expect:      true,
		},
		{
			description: "tag filter ignores branch pushes",
			trigger:     &Trigger{Push: &PushTrigger{Tags: []string{"v*"}}},
			event:       NewPushEvent("refs/heads/v1-branch", ""),
			expect:      false,
		},
		{
			description: "tag filter matches tag pushes",
			trigger:     &Trigger{Push: &PushTrigger{Tags: []string{"v*"}}},
			event:       NewPushEvent("refs/tags/v2.0.0", ""),
			expect:      true,
		},
		{
			description: "branch filter with tag push",
			trigger:     &Trigger{Push: &PushTrigger{Branches: []string{"main"}}},
			event:       NewPushEvent("refs/tags/v2.0.0", ""),
			expect:      false,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			assert.Equal(t, testCase.expect, testCase.trigger.Matches(testCase.event))
		})
	}
}

func TestEvent_String(t *testing.T) {
	assert.Equal(t, "push to branch main @4f2a9cc", NewPushEvent("main", "4f2a9cc").String())
	assert.Equal(t, "push to tag v1.2.3", NewPushEvent("refs/tags/v1.2.3", "").String())
	assert.Equal(t, "", (*Event)(nil).String())
}
