// Package system groups host-level actions: command execution and secret
// management on local or remote machines.
package system

// Host identifies where commands run.  The URL scheme selects the runner:
// bash://localhost/ executes locally, ssh://host[:port]/ connects over SSH
// with credentials resolved through scy.
type Host struct {
	URL         string `json:"url,omitempty"`
	Credentials string `json:"credentials,omitempty"` // scy secret resource locator
}

// NewHost returns a host for the given URL, defaulting to local execution.
func NewHost(URL string) *Host {
	if URL == "" {
		URL = "bash://localhost/"
	}
	return &Host{URL: URL}
}
