package llm

import (
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

// Clients bundles the model collaborators bound to a single API credential.
type Clients struct {
	Embedder embeddings.Embedder
	Model    llms.Model

	// Credential is the key both collaborators authenticate with.
	Credential string
}

// ClientFactory builds credential-bound collaborators.
//
// Each call returns fresh clients. An empty apiKey means the configured
// default; a non-empty one is used for the returned clients only.
type ClientFactory interface {
	ForCredential(apiKey string) (*Clients, error)
}
