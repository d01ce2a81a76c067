package exec

import (
	"context"
	"reflect"
	"strings"

	"github.com/modal-labs/conveyor/model/types"
)

const Name = "system/exec"

func (s *Service) Name() string {
	return Name
}

func (s *Service) Methods() types.Signatures {
	return []types.Signature{
		{
			Name: "run",
			Description: `Executes one or more shell commands on the target host.
Each entry in the commands array is started as an independent shell invocation;
options and arguments for a single command belong in the same string.`,
			Input:  reflect.TypeOf(&Input{}),
			Output: reflect.TypeOf(&Output{}),
		}}
}

func (s *Service) run(context context.Context, in, out interface{}) error {
	input, ok := in.(*Input)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	output, ok := out.(*Output)
	if !ok {
		return types.NewInvalidOutputError(out)
	}
	return s.Execute(context, input, output)
}

// Method returns method by Name
func (s *Service) Method(name string) (types.Executable, error) {
	switch strings.ToLower(name) {
	case "run", "execute":
		return s.run, nil
	default:
		return nil, types.NewMethodNotFoundError(name)
	}
}
