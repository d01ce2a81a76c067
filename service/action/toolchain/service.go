// Package toolchain installs compiler toolchains through rustup so that
// later run steps can invoke channel-pinned tools (cargo +nightly style).
package toolchain

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/modal-labs/conveyor/model/types"
	"github.com/modal-labs/conveyor/service/action/system/exec"
)

const Name = "toolchain"

// Service installs toolchains by delegating to the exec runner
type Service struct {
	exec *exec.Service
}

// New creates a toolchain service
func New(execSvc *exec.Service) *Service {
	return &Service{exec: execSvc}
}

// Input represents a toolchain installation request
type Input struct {
	Toolchain  string   `json:"toolchain,omitempty" description:"channel or version: stable, nightly, 1.81.0"`
	Version    string   `json:"version,omitempty" description:"alias for toolchain, set by uses: toolchain@<version>"`
	Components []string `json:"components,omitempty" description:"extra components: clippy, rustfmt, ..."`
	Targets    []string `json:"targets,omitempty" description:"extra compilation targets"`
	Profile    string   `json:"profile,omitempty" description:"rustup profile: minimal, default, complete"`
	Default    bool     `json:"default,omitempty" description:"make the channel the default toolchain"`
}

func (i *Input) Init() {
	if i.Toolchain == "" {
		i.Toolchain = i.Version
	}
	if i.Toolchain == "" {
		i.Toolchain = "stable"
	}
	if i.Profile == "" {
		i.Profile = "minimal"
	}
}

// Output describes the installed toolchain
type Output struct {
	Toolchain string `json:"toolchain"`
	Version   string `json:"version,omitempty"` // rustc version string
}

// Name returns the service name
func (s *Service) Name() string {
	return Name
}

// Methods returns the service methods
func (s *Service) Methods() types.Signatures {
	return []types.Signature{
		{
			Name:        "run",
			Description: "Installs a toolchain channel with optional components and reports the resolved compiler version.",
			Input:       reflect.TypeOf(&Input{}),
			Output:      reflect.TypeOf(&Output{}),
		},
	}
}

// Method returns the specified method
func (s *Service) Method(name string) (types.Executable, error) {
	switch strings.ToLower(name) {
	case "run", "install":
		return s.run, nil
	default:
		return nil, types.NewMethodNotFoundError(name)
	}
}

func (s *Service) run(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*Input)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	output, ok := out.(*Output)
	if !ok {
		return types.NewInvalidOutputError(out)
	}
	return s.Install(ctx, input, output)
}

// Install installs the requested toolchain channel.
func (s *Service) Install(ctx context.Context, input *Input, output *Output) error {
	input.Init()

	var install strings.Builder
	install.WriteString(fmt.Sprintf("rustup toolchain install %s --profile %s", input.Toolchain, input.Profile))
	for _, component := range input.Components {
		install.WriteString(" --component ")
		install.WriteString(component)
	}
	for _, target := range input.Targets {
		install.WriteString(" --target ")
		install.WriteString(target)
	}

	commands := []string{install.String()}
	if input.Default {
		commands = append(commands, fmt.Sprintf("rustup default %s", input.Toolchain))
	}
	commands = append(commands, fmt.Sprintf("rustup run %s rustc --version", input.Toolchain))

	execOutput := &exec.Output{}
	if err := s.exec.Execute(ctx, &exec.Input{Commands: commands}, execOutput); err != nil {
		return err
	}
	if execOutput.Status != 0 {
		return fmt.Errorf("toolchain %v installation failed: %v", input.Toolchain, execOutput.Stderr)
	}

	output.Toolchain = input.Toolchain
	if n := len(execOutput.Commands); n > 0 {
		output.Version = strings.TrimSpace(execOutput.Commands[n-1].Output)
	}
	return nil
}
