package types

// Service is an action service interface
type Service interface {
	Name() string
	Methods() Signatures
	Method(name string) (Executable, error)
}
