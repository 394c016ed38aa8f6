// Package vault adapts github.com/hashicorp/vault/api to backend.Client.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/vault/api"

	"github.com/systmms/vaultenv/internal/backend"
	dserrors "github.com/systmms/vaultenv/internal/errors"
)

// InternalMountsPath lists the mounts visible to the current token, including
// their engine type and options.
const InternalMountsPath = "sys/internal/ui/mounts"

// Client implements backend.Client on top of the official Vault API client.
type Client struct {
	api *api.Client
}

// Dial builds a Client for the endpoint. Ambient VAULT_TOKEN and
// VAULT_NAMESPACE values picked up by the api package are discarded: the
// connection configuration is the only source of both.
func Dial(endpoint backend.Endpoint) (backend.Client, error) {
	cfg := api.DefaultConfig()
	if cfg.Error != nil {
		return nil, fmt.Errorf("failed to read vault client defaults: %w", cfg.Error)
	}
	cfg.Address = endpoint.Address
	if endpoint.Timeout > 0 {
		cfg.Timeout = endpoint.Timeout
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.ClearToken()
	if endpoint.Namespace != "" {
		client.SetNamespace(endpoint.Namespace)
	} else {
		client.ClearNamespace()
	}

	return &Client{api: client}, nil
}

// Dialer is the production backend.Dialer.
var Dialer backend.Dialer = backend.DialerFunc(Dial)

// AuthenticateToken sets a pre-issued token.
func (c *Client) AuthenticateToken(id string) {
	c.api.SetToken(id)
}

// AuthenticateUserpass logs in through auth/<mountPoint>/login/<username>.
func (c *Client) AuthenticateUserpass(ctx context.Context, mountPoint, username, password string) (backend.Auth, error) {
	path := fmt.Sprintf("auth/%s/login/%s", strings.Trim(mountPoint, "/"), username)

	secret, err := c.api.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"password": password,
	})
	if err != nil {
		return backend.Auth{}, &dserrors.AuthError{Op: "userpass", Err: err}
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return backend.Auth{}, &dserrors.AuthError{Op: "userpass", Err: errors.New("no token received from vault")}
	}

	c.api.SetToken(secret.Auth.ClientToken)
	return authOf(secret.Auth), nil
}

// SelfLookup inspects the current token.
func (c *Client) SelfLookup(ctx context.Context) (backend.TokenInfo, error) {
	secret, err := c.api.Auth().Token().LookupSelfWithContext(ctx)
	if err != nil {
		return backend.TokenInfo{}, &dserrors.AuthError{Op: "lookup-self", Err: err}
	}
	if secret == nil {
		return backend.TokenInfo{}, &dserrors.AuthError{Op: "lookup-self", Err: errors.New("empty lookup response")}
	}

	id, err := secret.TokenID()
	if err != nil {
		return backend.TokenInfo{}, &dserrors.AuthError{Op: "lookup-self", Err: err}
	}
	renewable, err := secret.TokenIsRenewable()
	if err != nil {
		return backend.TokenInfo{}, &dserrors.AuthError{Op: "lookup-self", Err: err}
	}
	ttl, err := secret.TokenTTL()
	if err != nil {
		return backend.TokenInfo{}, &dserrors.AuthError{Op: "lookup-self", Err: err}
	}

	return backend.TokenInfo{
		ID:        id,
		Renewable: renewable,
		TTL:       int(ttl.Seconds()),
	}, nil
}

// SelfRenew extends the lease of the current token by its default increment.
func (c *Client) SelfRenew(ctx context.Context) (backend.Auth, error) {
	secret, err := c.api.Auth().Token().RenewSelfWithContext(ctx, 0)
	if err != nil {
		return backend.Auth{}, &dserrors.AuthError{Op: "renew-self", Err: err}
	}
	if secret == nil || secret.Auth == nil {
		return backend.Auth{}, &dserrors.AuthError{Op: "renew-self", Err: errors.New("empty renewal response")}
	}
	return authOf(secret.Auth), nil
}

// ListMounts reads the internal UI mount listing.
func (c *Client) ListMounts(ctx context.Context) (map[string]backend.MountInfo, error) {
	secret, err := c.api.Logical().ReadWithContext(ctx, InternalMountsPath)
	if err != nil {
		return nil, transportError("mounts", InternalMountsPath, err)
	}
	if secret == nil || secret.Data == nil {
		return map[string]backend.MountInfo{}, nil
	}

	raw, _ := secret.Data["secret"].(map[string]interface{})
	mounts := make(map[string]backend.MountInfo, len(raw))
	for path, entry := range raw {
		fields, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		info := backend.MountInfo{Options: map[string]string{}}
		info.Type, _ = fields["type"].(string)
		if options, ok := fields["options"].(map[string]interface{}); ok {
			for k, v := range options {
				info.Options[k] = stringOf(v)
			}
		}
		mounts[path] = info
	}
	return mounts, nil
}

// List returns the keys under path; 404 yields an empty listing.
func (c *Client) List(ctx context.Context, path string) ([]string, error) {
	secret, err := c.api.Logical().ListWithContext(ctx, path)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, transportError("list", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	raw, _ := secret.Data["keys"].([]interface{})
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if s, ok := k.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys, nil
}

// Read returns the raw data of the secret at path; 404 yields nil.
func (c *Client) Read(ctx context.Context, path string) (map[string]any, error) {
	secret, err := c.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, transportError("read", path, err)
	}
	if secret == nil {
		return nil, nil
	}
	return secret.Data, nil
}

// ClearToken forgets the token held by the API client.
func (c *Client) ClearToken() {
	c.api.ClearToken()
}

func authOf(auth *api.SecretAuth) backend.Auth {
	return backend.Auth{
		ClientToken:   auth.ClientToken,
		Renewable:     auth.Renewable,
		LeaseDuration: auth.LeaseDuration,
	}
}

func stringOf(v interface{}) string {
	switch value := v.(type) {
	case string:
		return value
	case json.Number:
		return value.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(value)
	}
}

func isNotFound(err error) bool {
	var apiErr *api.ResponseError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}
	return false
}

func transportError(op, path string, err error) error {
	te := &dserrors.TransportError{Op: op, Path: path, Err: err}
	var apiErr *api.ResponseError
	if errors.As(err, &apiErr) {
		te.StatusCode = apiErr.StatusCode
	}
	return te
}

var _ backend.Client = (*Client)(nil)
