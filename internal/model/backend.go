package model

// Backend turns artifact bytes into a runnable session.
type Backend interface {
	Open(artifact []byte, meta Metadata) (Session, error)
	Close() error
}

// Session runs one forward pass. Implementations must be safe for concurrent
// use; every call owns its input and output buffers.
type Session interface {
	Run(input []float32) ([]float32, error)
	Close() error
}

// Model is the loaded, read-only handle shared by all requests.
type Model struct {
	Metadata      Metadata
	Taxonomy      Taxonomy
	Normalization Normalization

	session Session
}

func (m *Model) Run(input []float32) ([]float32, error) {
	return m.session.Run(input)
}
