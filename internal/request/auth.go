package request

import (
	"fmt"
	"strings"
)

// AuthType selects the HTTP authentication scheme
type AuthType int

const (
	AuthNone AuthType = iota
	AuthBasic
	AuthDigest
	AuthBearer
	AuthAny // digest when challenged with Digest, basic when challenged with Basic
)

var authNames = map[AuthType]string{
	AuthNone:   "none",
	AuthBasic:  "basic",
	AuthDigest: "digest",
	AuthBearer: "bearer",
	AuthAny:    "any",
}

func (a AuthType) String() string {
	if n, ok := authNames[a]; ok {
		return n
	}
	return fmt.Sprintf("AuthType(%d)", int(a))
}

// ParseAuthType maps "none", "basic", "digest", "bearer" or "any" (any case) to an AuthType.
// An empty name is AuthNone.
func ParseAuthType(name string) (AuthType, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return AuthNone, nil
	}
	for t, s := range authNames {
		if s == n {
			return t, nil
		}
	}
	return AuthNone, fmt.Errorf("unknown auth type %q", name)
}

// MarshalText implements encoding.TextMarshaler
func (a AuthType) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so JSON and YAML carry the name
func (a *AuthType) UnmarshalText(text []byte) error {
	t, err := ParseAuthType(string(text))
	if err != nil {
		return err
	}
	*a = t
	return nil
}

// Auth holds the scheme and credentials.
// Credentials are "user:password" for basic, digest and any, and the token for bearer.
type Auth struct {
	Type        AuthType `json:"type" yaml:"type"`
	Credentials string   `json:"credentials" yaml:"credentials"`
}

// Enabled reports whether the request should carry credentials at all
func (a Auth) Enabled() bool {
	return a.Type != AuthNone && a.Credentials != ""
}

// UserPassword splits "user:password" credentials. A value without a colon is a bare user name.
func (a Auth) UserPassword() (string, string) {
	user, pass, _ := strings.Cut(a.Credentials, ":")
	return user, pass
}
