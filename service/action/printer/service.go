// Package printer writes step messages to standard output.
package printer

import (
	"context"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/modal-labs/conveyor/model/types"
)

const name = "printer"

// Service prints messages produced by workflow steps
type Service struct {
	writer io.Writer
}

type Input struct {
	Message string `json:"message" yaml:"message"`
}

// Output represents print output
type Output struct {
}

// Option customizes the printer service
type Option func(*Service)

// WithWriter overrides the destination writer
func WithWriter(w io.Writer) Option {
	return func(s *Service) {
		s.writer = w
	}
}

// New creates a new printer service
func New(options ...Option) *Service {
	ret := &Service{writer: os.Stdout}
	for _, opt := range options {
		opt(ret)
	}
	return ret
}

// Name returns the service name
func (s *Service) Name() string {
	return name
}

// Methods returns the service methods
func (s *Service) Methods() types.Signatures {
	return []types.Signature{
		{
			Name:        "print",
			Description: "Prints the given message to standard output.",
			Input:       reflect.TypeOf(&Input{}),
			Output:      reflect.TypeOf(&Output{}),
		},
	}
}

// Method returns the specified method
func (s *Service) Method(name string) (types.Executable, error) {
	switch strings.ToLower(name) {
	case "print", "run":
		return s.print, nil
	default:
		return nil, types.NewMethodNotFoundError(name)
	}
}

func (s *Service) print(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*Input)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	_, err := fmt.Fprintln(s.writer, input.Message)
	return err
}
