// Package catalog exposes the read-only directory of providers and subjects.
// The lifecycle engine consults it informatively on submit; the HTTP layer
// serves it to clients. Catalog reads are non-critical: failures degrade to
// empty results rather than blocking request flows.
package catalog

import (
	"context"
	"errors"
)

// ErrProviderUnknown is returned by Provider for an id not in the catalog.
var ErrProviderUnknown = errors.New("catalog: unknown provider")

// Provider is one bookable party in the directory.
type Provider struct {
	ID        string  `json:"id" yaml:"id"`
	Name      string  `json:"name" yaml:"name"`
	Subject   string  `json:"subject" yaml:"subject"`
	Rate      float64 `json:"rate" yaml:"rate"`
	Rating    float64 `json:"rating" yaml:"rating"`
	Available bool    `json:"available" yaml:"available"`
}

// Subject is a catalog topic offering.
type Subject struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Catalog is the read-only lookup contract.
type Catalog interface {
	Provider(ctx context.Context, id string) (Provider, error)
	Providers(ctx context.Context) ([]Provider, error)
	Subjects(ctx context.Context) ([]Subject, error)
}

// Static is a fixed in-memory catalog, used in tests and as the built-in
// default when no catalog file is configured.
type Static struct {
	ProviderList []Provider
	SubjectList  []Subject
}

func (s *Static) Provider(ctx context.Context, id string) (Provider, error) {
	for _, p := range s.ProviderList {
		if p.ID == id {
			return p, nil
		}
	}
	return Provider{}, ErrProviderUnknown
}

func (s *Static) Providers(ctx context.Context) ([]Provider, error) {
	out := make([]Provider, len(s.ProviderList))
	copy(out, s.ProviderList)
	return out, nil
}

func (s *Static) Subjects(ctx context.Context) ([]Subject, error) {
	out := make([]Subject, len(s.SubjectList))
	copy(out, s.SubjectList)
	return out, nil
}

var _ Catalog = (*Static)(nil)
