// Package auth verifies bearer credentials and produces the Principal that
// downstream authorization works on.
//
// # Overview
//
// Two Authenticator implementations share one error taxonomy:
//
//	TokenAuthenticator - HS256 JWTs signed with a shared secret
//	OIDCAuthenticator  - ID tokens from an OpenID Connect provider
//
// Every failure maps to exactly one of ErrMissingCredential,
// ErrExpiredCredential or ErrInvalidCredential. Callers branch with
// errors.Is and respond 401 for all three.
//
// # Usage
//
//	authn, err := auth.NewTokenAuthenticator(auth.TokenConfig{
//		Secret: []byte(cfg.Auth.TokenSecret),
//		Issuer: "accessgate",
//		Leeway: 30 * time.Second,
//	})
//
//	raw, err := auth.FromRequest(r)
//	principal, err := authn.Authenticate(r.Context(), raw)
//	ctx := auth.WithPrincipal(r.Context(), principal)
//
// Tokens for local development and tests are minted with Issuer:
//
//	issuer, _ := auth.NewIssuer(tokenConfig)
//	token, _ := issuer.Issue(auth.Principal{Subject: "U1", Roles: []string{"Administrator"}}, time.Hour)
//
// # Claims
//
// The subject claim is required. Roles come from the "roles" claim and are
// only consulted for elevated role checks; stored role assignments are
// resolved separately by the rbac package.
package auth
