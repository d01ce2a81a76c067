package exec

import (
	"strings"

	"github.com/modal-labs/conveyor/service/action/system"
)

// Input represents a command execution request
type Input struct {
	Host         *system.Host      `json:"host,omitempty" description:"host to execute commands on" internal:"true"`
	Workdir      string            `json:"workdir,omitempty" description:"directory where commands start"`
	Env          map[string]string `json:"env,omitempty" description:"environment variables set before commands run"`
	Commands     []string          `json:"commands,omitempty" description:"commands to execute on the target system"`
	TimeoutMs    int               `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty" description:"max wait time before timing out a command"`
	AbortOnError *bool             `json:"abortOnError,omitempty" description:"stop after the first command exiting non-zero"`
}

// Init fills defaults; an absent host means local execution.
func (i *Input) Init() {
	if i.Host == nil {
		i.Host = &system.Host{}
	}
	if i.Host.URL == "" {
		i.Host.URL = "bash://localhost/"
	}
}

// Program returns the leading token of the first command, used by the policy
// gate to match allow/block lists.
func (i *Input) Program() string {
	for _, cmd := range i.Commands {
		fields := strings.Fields(cmd)
		if len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}
