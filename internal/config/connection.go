package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Supported auth methods.
const (
	MethodToken    = "token"
	MethodUsername = "username"
)

// Connection is one Vault server the tool can browse.
type Connection struct {
	Name      string `yaml:"name" json:"name"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Auth      Auth   `yaml:"auth" json:"auth"`
}

// Auth describes how a session obtains its token.
type Auth struct {
	Method     string `yaml:"method" json:"method"`
	Token      string `yaml:"token,omitempty" json:"token,omitempty"`
	MountPoint string `yaml:"mountPoint,omitempty" json:"mountPoint,omitempty"`
	Username   string `yaml:"username,omitempty" json:"username,omitempty"`
	Password   string `yaml:"password,omitempty" json:"password,omitempty"`
}

// Validate checks the fields a session needs. It does not contact the server.
func (c Connection) Validate() error {
	if isBlank(c.Name) {
		return errors.New("name is required")
	}
	if err := validateEndpoint(c.Endpoint); err != nil {
		return err
	}

	switch c.Auth.Method {
	case MethodToken:
		if isBlank(c.Auth.Token) {
			return errors.New("auth.token is required for method token")
		}
	case MethodUsername:
		if isBlank(c.Auth.MountPoint) {
			return errors.New("auth.mountPoint is required for method username")
		}
		if isBlank(c.Auth.Username) {
			return errors.New("auth.username is required for method username")
		}
		if isBlank(c.Auth.Password) {
			return errors.New("auth.password is required for method username")
		}
	default:
		return fmt.Errorf("auth.method %q is not one of %s, %s", c.Auth.Method, MethodToken, MethodUsername)
	}

	return nil
}

func validateEndpoint(endpoint string) error {
	if isBlank(endpoint) {
		return errors.New("endpoint is required")
	}
	if strings.ContainsAny(endpoint, " \t\r\n") {
		return fmt.Errorf("endpoint %q contains whitespace", endpoint)
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("endpoint %q is not a valid URL", endpoint)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("endpoint %q must use http or https", endpoint)
	}
	if u.User != nil {
		return fmt.Errorf("endpoint must not embed credentials")
	}
	if u.Hostname() == "" {
		return fmt.Errorf("endpoint %q has no host", endpoint)
	}
	return nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// NormalizeEndpoint lowercases scheme and host and strips the trailing slash.
// Values that do not parse are only stripped.
func NormalizeEndpoint(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimSuffix(endpoint, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return strings.TrimSuffix(u.String(), "/")
}

// Normalized returns a copy with a normalized endpoint.
func (c Connection) Normalized() Connection {
	c.Endpoint = NormalizeEndpoint(c.Endpoint)
	return c
}

// Equal reports whether both connections describe the same server with the
// same credentials. Endpoints are compared after normalization.
func (c Connection) Equal(other Connection) bool {
	return c.Name == other.Name &&
		NormalizeEndpoint(c.Endpoint) == NormalizeEndpoint(other.Endpoint) &&
		c.Namespace == other.Namespace &&
		c.Auth == other.Auth
}

// Expand resolves ${VAR} references in the credential fields. A reference to
// an unset variable is an error; $$ yields a literal $.
func (c Connection) Expand() (Connection, error) {
	var err error
	if c.Auth.Token, err = expandEnvStrict(c.Auth.Token); err != nil {
		return c, fmt.Errorf("auth.token: %w", err)
	}
	if c.Auth.Username, err = expandEnvStrict(c.Auth.Username); err != nil {
		return c, fmt.Errorf("auth.username: %w", err)
	}
	if c.Auth.Password, err = expandEnvStrict(c.Auth.Password); err != nil {
		return c, fmt.Errorf("auth.password: %w", err)
	}
	return c, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnvStrict(s string) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}

	const dollarSentinel = "\x00VAULTENV_DOLLAR\x00"
	s = strings.ReplaceAll(s, "$$", dollarSentinel)

	missing := make(map[string]struct{})
	for _, match := range envVarPattern.FindAllStringSubmatch(s, -1) {
		if _, ok := os.LookupEnv(match[1]); !ok {
			missing[match[1]] = struct{}{}
		}
	}
	if len(missing) > 0 {
		keys := make([]string, 0, len(missing))
		for k := range missing {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "", fmt.Errorf("missing required environment variables: %s", strings.Join(keys, ", "))
	}

	s = os.ExpandEnv(s)
	return strings.ReplaceAll(s, dollarSentinel, "$"), nil
}
