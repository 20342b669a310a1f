package crypto

// Service adapts the package's canonicalization and digest functions
// to the capability interface the verification pipeline consumes.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

func (s *Service) CanonicalizeAny(payload any) ([]byte, error) {
	return CanonicalizeAny(payload)
}

func (s *Service) SHA256Hex0x(input []byte) string {
	return SHA256Hex0x(input)
}
