package lime

import (
	"encoding/json"
	"fmt"
)

// AuthenticationScheme is the authentication method selected during
// session negotiation.
type AuthenticationScheme string

const (
	AuthenticationSchemeGuest     AuthenticationScheme = "guest"
	AuthenticationSchemePlain     AuthenticationScheme = "plain"
	AuthenticationSchemeKey       AuthenticationScheme = "key"
	AuthenticationSchemeTransport AuthenticationScheme = "transport"
	AuthenticationSchemeExternal  AuthenticationScheme = "external"
)

// Authentication is the variant carried by a Session envelope's
// "authentication" field. The concrete variant is selected by the
// sibling "scheme" field, not by a type tag embedded in the JSON itself.
type Authentication interface {
	Scheme() AuthenticationScheme
}

// GuestAuthentication presents no credentials.
type GuestAuthentication struct{}

func (GuestAuthentication) Scheme() AuthenticationScheme { return AuthenticationSchemeGuest }

// PlainAuthentication presents a base64-less plaintext password. Callers
// that need resistance to casual inspection should pair this scheme with
// encryption: tls during negotiation.
type PlainAuthentication struct {
	Password string `json:"password,omitempty"`
}

func (PlainAuthentication) Scheme() AuthenticationScheme { return AuthenticationSchemePlain }

// KeyAuthentication presents a pre-shared key.
type KeyAuthentication struct {
	Key string `json:"key,omitempty"`
}

func (KeyAuthentication) Scheme() AuthenticationScheme { return AuthenticationSchemeKey }

// TransportAuthentication defers to identity already established at the
// transport layer (e.g. a client certificate).
type TransportAuthentication struct{}

func (TransportAuthentication) Scheme() AuthenticationScheme { return AuthenticationSchemeTransport }

// ExternalAuthentication presents a token issued by an external identity
// provider.
type ExternalAuthentication struct {
	Token  string `json:"token,omitempty"`
	Issuer string `json:"issuer,omitempty"`
}

func (ExternalAuthentication) Scheme() AuthenticationScheme { return AuthenticationSchemeExternal }

// decodeAuthentication decodes raw JSON into the Authentication variant
// named by scheme.
func decodeAuthentication(scheme AuthenticationScheme, raw json.RawMessage) (Authentication, error) {
	switch scheme {
	case "", AuthenticationSchemeGuest:
		return GuestAuthentication{}, nil
	case AuthenticationSchemePlain:
		var a PlainAuthentication
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, fmt.Errorf("lime: decode plain authentication: %w", err)
			}
		}
		return a, nil
	case AuthenticationSchemeKey:
		var a KeyAuthentication
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, fmt.Errorf("lime: decode key authentication: %w", err)
			}
		}
		return a, nil
	case AuthenticationSchemeTransport:
		return TransportAuthentication{}, nil
	case AuthenticationSchemeExternal:
		var a ExternalAuthentication
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, fmt.Errorf("lime: decode external authentication: %w", err)
			}
		}
		return a, nil
	default:
		return nil, fmt.Errorf("%w: unknown authentication scheme %q", ErrSerialization, scheme)
	}
}
