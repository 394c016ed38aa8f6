package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnection_Validate(t *testing.T) {
	t.Parallel()

	base := Connection{
		Name:     "dev",
		Endpoint: "https://vault.dev:8200",
		Auth:     Auth{Method: MethodToken, Token: "s.abc"},
	}
	userpass := Connection{
		Name:     "ops",
		Endpoint: "http://localhost:8200",
		Auth:     Auth{Method: MethodUsername, MountPoint: "userpass", Username: "alice", Password: "pw"},
	}

	tests := []struct {
		name     string
		mutate   func(c Connection) Connection
		from     Connection
		errorMsg string
	}{
		{"valid token", func(c Connection) Connection { return c }, base, ""},
		{"valid userpass", func(c Connection) Connection { return c }, userpass, ""},
		{"no tld is fine", func(c Connection) Connection { c.Endpoint = "http://vault:8200"; return c }, base, ""},
		{"blank name", func(c Connection) Connection { c.Name = "  "; return c }, base, "name is required"},
		{"missing scheme", func(c Connection) Connection { c.Endpoint = "vault.dev:8200"; return c }, base, "http or https"},
		{"ftp scheme", func(c Connection) Connection { c.Endpoint = "ftp://vault.dev"; return c }, base, "http or https"},
		{"embedded auth", func(c Connection) Connection { c.Endpoint = "https://u:p@vault.dev"; return c }, base, "credentials"},
		{"no host", func(c Connection) Connection { c.Endpoint = "https://"; return c }, base, "no host"},
		{"whitespace", func(c Connection) Connection { c.Endpoint = "https://vault dev"; return c }, base, "whitespace"},
		{"unknown method", func(c Connection) Connection { c.Auth.Method = "approle"; return c }, base, "approle"},
		{"blank token", func(c Connection) Connection { c.Auth.Token = " "; return c }, base, "auth.token"},
		{"blank mount", func(c Connection) Connection { c.Auth.MountPoint = ""; return c }, userpass, "auth.mountPoint"},
		{"blank username", func(c Connection) Connection { c.Auth.Username = ""; return c }, userpass, "auth.username"},
		{"blank password", func(c Connection) Connection { c.Auth.Password = ""; return c }, userpass, "auth.password"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.mutate(tt.from).Validate()
			if tt.errorMsg == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			}
		})
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://vault.dev:8200", NormalizeEndpoint("https://vault.dev:8200/"))
	assert.Equal(t, "https://vault.dev", NormalizeEndpoint("HTTPS://Vault.DEV/"))
	assert.Equal(t, "http://vault/v1/base", NormalizeEndpoint("http://vault/v1/base/"))
	assert.Equal(t, "not a url", NormalizeEndpoint("not a url/"))
}

func TestConnection_Equal(t *testing.T) {
	t.Parallel()

	a := Connection{Name: "dev", Endpoint: "https://vault.dev/", Auth: Auth{Method: MethodToken, Token: "t"}}
	b := Connection{Name: "dev", Endpoint: "https://vault.dev", Auth: Auth{Method: MethodToken, Token: "t"}}
	assert.True(t, a.Equal(b))

	b.Namespace = "ns"
	assert.False(t, a.Equal(b))

	b.Namespace = ""
	b.Auth.Token = "other"
	assert.False(t, a.Equal(b))
}

func TestConnection_Expand(t *testing.T) {
	t.Setenv("VAULTENV_TEST_TOKEN", "s.from-env")

	c := Connection{Auth: Auth{Method: MethodToken, Token: "${VAULTENV_TEST_TOKEN}", Password: "pa$$word"}}
	expanded, err := c.Expand()
	require.NoError(t, err)
	assert.Equal(t, "s.from-env", expanded.Auth.Token)
	assert.Equal(t, "pa$word", expanded.Auth.Password)

	c.Auth.Token = "${VAULTENV_TEST_MISSING}"
	_, err = c.Expand()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VAULTENV_TEST_MISSING")
}

func TestResolve_MissingVariableDropsEntry(t *testing.T) {
	valid, problems := Resolve([]Connection{{
		Name:     "dev",
		Endpoint: "http://vault:8200",
		Auth:     Auth{Method: MethodToken, Token: "${VAULTENV_TEST_UNSET_TOKEN}"},
	}})

	assert.Empty(t, valid)
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0].Reason, "VAULTENV_TEST_UNSET_TOKEN")
}
