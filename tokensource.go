package goSession

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrEthical07/goSession/credential"
	"golang.org/x/oauth2"
)

type storeTokenSource struct {
	engine *Engine
}

// Token reads the access token from the credential store. It is not cached:
// a token rotated by the scheduler is picked up by the next request.
func (s storeTokenSource) Token() (*oauth2.Token, error) {
	e := s.engine
	if err := e.ready(); err != nil {
		return nil, err
	}
	pair, err := e.store.Load(e.baseCtx)
	if err != nil {
		if errors.Is(err, credential.ErrNoTokens) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("%w: %w", ErrCredentialStore, err)
	}
	return &oauth2.Token{
		AccessToken: pair.RawAccessToken(),
		TokenType:   "Bearer",
		Expiry:      pair.AccessExpiresAt,
	}, nil
}

// TokenSource returns a token source over the persisted access token.
func (e *Engine) TokenSource() oauth2.TokenSource {
	return storeTokenSource{engine: e}
}

// HTTPClient returns a client that authenticates every request with the
// current access token. The transport of an *http.Client stored in ctx under
// oauth2.HTTPClient is used as the base transport.
func (e *Engine) HTTPClient(ctx context.Context) *http.Client {
	base := http.DefaultTransport
	if ctx != nil {
		if hc, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && hc != nil && hc.Transport != nil {
			base = hc.Transport
		}
	}
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: e.TokenSource(),
			Base:   base,
		},
	}
}
