// Package checkout materialises the repository working copy a job operates
// on.  Remote git URLs are cloned through the exec runner; local source URLs
// are copied with afs; an empty repository resolves to the directory the
// engine runs in.
package checkout

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/modal-labs/conveyor/model/types"
	"github.com/modal-labs/conveyor/runtime/execution"
	"github.com/modal-labs/conveyor/service/action/system/exec"
)

const Name = "checkout"

// Service materialises working copies
type Service struct {
	fs            afs.Service
	exec          *exec.Service
	workspaceRoot string
}

// New creates a checkout service delegating shell work to the exec runner.
func New(execSvc *exec.Service, options ...Option) *Service {
	ret := &Service{
		fs:            afs.New(),
		exec:          execSvc,
		workspaceRoot: filepath.Join(os.TempDir(), "conveyor", "workspaces"),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Option customises the checkout service.
type Option func(*Service)

// WithWorkspaceRoot overrides where cloned working copies are placed.
func WithWorkspaceRoot(root string) Option {
	return func(s *Service) {
		if root != "" {
			s.workspaceRoot = root
		}
	}
}

// Input represents a checkout request
type Input struct {
	Repository string `json:"repository,omitempty" description:"git URL or local source URL; empty resolves to the engine working directory"`
	Ref        string `json:"ref,omitempty" description:"branch, tag or commit to check out; defaults to the trigger event"`
	Path       string `json:"path,omitempty" description:"destination relative to the run workspace"`
	Depth      int    `json:"depth,omitempty" description:"shallow clone depth, 0 clones full history"`
	Clean      bool   `json:"clean,omitempty" description:"remove a pre-existing working copy first"`
}

// Output describes the materialised working copy
type Output struct {
	Path   string `json:"path"`
	Commit string `json:"commit,omitempty"`
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
			Description: "Materialises the repository working copy and returns its path and HEAD commit.",
			Input:       reflect.TypeOf(&Input{}),
			Output:      reflect.TypeOf(&Output{}),
		},
	}
}

// Method returns the specified method
func (s *Service) Method(name string) (types.Executable, error) {
	switch strings.ToLower(name) {
	case "run", "checkout":
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
	return s.Checkout(ctx, input, output)
}

// Checkout materialises the working copy described by input.
func (s *Service) Checkout(ctx context.Context, input *Input, output *Output) error {
	s.applyEventDefaults(ctx, input)

	if input.Repository == "" {
		return s.checkoutCurrent(ctx, output)
	}

	dest, err := s.destination(ctx, input)
	if err != nil {
		return err
	}
	if input.Clean {
		_ = s.fs.Delete(ctx, url.Normalize(dest, file.Scheme))
	}

	if isLocalSource(input.Repository) {
		if err := s.fs.Copy(ctx, input.Repository, url.Normalize(dest, file.Scheme)); err != nil {
			return fmt.Errorf("failed to copy %v: %w", input.Repository, err)
		}
	} else if err := s.clone(ctx, input, dest); err != nil {
		return err
	}

	output.Path = dest
	output.Commit = s.headCommit(ctx, dest)
	return nil
}

// applyEventDefaults fills the ref from the trigger event when unset.
func (s *Service) applyEventDefaults(ctx context.Context, input *Input) {
	if input.Ref != "" {
		return
	}
	run := execution.ContextValue[*execution.Run](ctx)
	if run == nil || run.Event == nil {
		return
	}
	switch {
	case run.Event.Commit != "":
		input.Ref = run.Event.Commit
	case run.Event.Ref != "":
		input.Ref = run.Event.Ref
	}
}

// checkoutCurrent treats the engine working directory as the working copy.
func (s *Service) checkoutCurrent(ctx context.Context, output *Output) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	output.Path = cwd
	output.Commit = s.headCommit(ctx, cwd)
	return nil
}

func (s *Service) destination(ctx context.Context, input *Input) (string, error) {
	base := s.workspaceRoot
	if run := execution.ContextValue[*execution.Run](ctx); run != nil && run.ID != "" {
		base = filepath.Join(base, run.ID)
	}
	name := input.Path
	if name == "" {
		name = repositoryName(input.Repository)
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	dest := filepath.Join(base, name)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	return dest, nil
}

func (s *Service) clone(ctx context.Context, input *Input, dest string) error {
	clone := "git clone"
	if input.Depth > 0 {
		clone += fmt.Sprintf(" --depth %d", input.Depth)
	}
	commands := []string{fmt.Sprintf("%s %q %q", clone, input.Repository, dest)}
	if input.Ref != "" {
		commands = append(commands, fmt.Sprintf("git -C %q checkout %q", dest, input.Ref))
	}

	execOutput := &exec.Output{}
	if err := s.exec.Execute(ctx, &exec.Input{Commands: commands}, execOutput); err != nil {
		return err
	}
	if execOutput.Status != 0 {
		return fmt.Errorf("git checkout of %v failed: %v", input.Repository, execOutput.Stderr)
	}
	return nil
}

// headCommit resolves the working copy HEAD, empty when dest is not a git
// repository.
func (s *Service) headCommit(ctx context.Context, dest string) string {
	abortOnError := false
	execOutput := &exec.Output{}
	err := s.exec.Execute(ctx, &exec.Input{
		Commands:     []string{fmt.Sprintf("git -C %q rev-parse HEAD", dest)},
		AbortOnError: &abortOnError,
	}, execOutput)
	if err != nil || execOutput.Status != 0 {
		return ""
	}
	return strings.TrimSpace(execOutput.Stdout)
}

func isLocalSource(repository string) bool {
	if strings.Contains(repository, "://") {
		return url.Scheme(repository, file.Scheme) == file.Scheme
	}
	if strings.Contains(repository, "@") { // scp-style git remote
		return false
	}
	_, err := os.Stat(repository)
	return err == nil
}

func repositoryName(repository string) string {
	name := strings.TrimSuffix(filepath.Base(url.Path(repository)), ".git")
	if name == "" || name == "." || name == "/" {
		return "src"
	}
	return name
}
