package realtime

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

type (
	OpenConnectionParamsGetter func(ctx context.Context) (OpenConnectionParams, error)

	// TokenSource returns the bearer token for the next handshake. An empty token means the
	// endpoint is dialled without an Authorization header.
	TokenSource func(ctx context.Context) (string, error)

	OpenConnectionParamsRepo struct {
		logger Logger
		getter OpenConnectionParamsGetter
	}
)

func (r OpenConnectionParamsRepo) Get(
	ctx context.Context,
) (params OpenConnectionParams, err error) {
	params, err = r.getter(ctx)
	if err != nil {
		r.logger.Errorf("cannot fetch open connection params: %s", err)
	}
	return
}

func NewOpenConnectionParamsRepo(
	logger Logger,
	getter OpenConnectionParamsGetter,
) OpenConnectionParamsRepo {
	return OpenConnectionParamsRepo{getter: getter, logger: logger}
}

// NewTokenParamsGetter resolves the endpoint and, when tokens is set, attaches a bearer token.
// A JWT whose exp claim is in the past yields an unrecoverable error: redialling with it would
// only be rejected again.
func NewTokenParamsGetter(rawURL string, tokens TokenSource, now func() time.Time) OpenConnectionParamsGetter {
	return func(ctx context.Context) (OpenConnectionParams, error) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return OpenConnectionParams{}, errors.Wrapf(ErrInvalidConfig, "cannot parse url %q: %s", rawURL, err)
		}

		params := OpenConnectionParams{URL: *u, Header: http.Header{}}
		if tokens == nil {
			return params, nil
		}

		token, err := tokens(ctx)
		if err != nil {
			return OpenConnectionParams{}, errors.Wrap(err, "cannot obtain access token")
		}
		if token == "" {
			return params, nil
		}

		if err := checkTokenExpiry(token, now()); err != nil {
			return OpenConnectionParams{}, WrapErrorUnrecoverableConnection(err, *u)
		}

		params.Header.Set("Authorization", "Bearer "+token)
		return params, nil
	}
}

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// checkTokenExpiry inspects the exp claim without verifying the signature; verification is the
// server's job. Opaque tokens that are not JWTs are passed through.
func checkTokenExpiry(token string, now time.Time) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !now.Before(exp.Time) {
		return errors.Wrapf(ErrTokenExpired, "expired at %s", exp.Time.UTC().Format(time.RFC3339))
	}
	return nil
}
