package localstore

import "context"

// ReadTokens returns the persisted token pair, or a zero pair.
func (s *Store) ReadTokens() Tokens {
	var t Tokens
	if !s.readJSON(tokensFile, &t) {
		return Tokens{}
	}
	return t
}

// SaveTokens overwrites the persisted token pair.
func (s *Store) SaveTokens(ctx context.Context, access, refresh string) error {
	return s.update(ctx, func() error {
		now := s.now().UTC()
		return s.writeJSON(tokensFile, Tokens{Access: access, Refresh: refresh, UpdatedAt: &now})
	})
}
