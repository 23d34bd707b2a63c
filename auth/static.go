package auth

import "context"

// Static maps opaque bearer tokens to actor ids. Intended for development
// and tests; production deployments use the JWT authenticator.
type Static struct {
	tokens map[string]string
}

// NewStatic builds a Static authenticator from a token -> actorID map. The
// map is copied.
func NewStatic(tokens map[string]string) *Static {
	cp := make(map[string]string, len(tokens))
	for tok, actor := range tokens {
		cp[tok] = actor
	}
	return &Static{tokens: cp}
}

func (s *Static) CheckAuthentication(ctx context.Context, tok string) (ActorInfo, error) {
	actorID, ok := s.tokens[tok]
	if !ok || actorID == "" {
		return nil, ErrUnauthorized
	}
	return actorInfo(actorID), nil
}

var _ Authenticator = (*Static)(nil)
