package session

import (
	"strings"
	"time"
)

// Token is the renewal policy of an issued token. The identifier itself
// lives in the session's secure token cache.
type Token struct {
	ID        string
	Renewable bool
	TTL       int // seconds
}

// Engine types visible in the catalog.
const (
	EngineKV        = "kv"
	EngineCubbyhole = "cubbyhole"
)

// Kind is the path layout of a mount.
type Kind string

const (
	KindKV1       Kind = "kv-v1"
	KindKV2       Kind = "kv-v2"
	KindCubbyhole Kind = "cubbyhole"
)

// Mount is a secret engine mount, or a folder inside one. SubFolder
// accumulates the traversed folder labels, each with its trailing slash.
type Mount struct {
	Name      string
	Type      string
	Version   string
	SubFolder string
}

// Kind reports the path layout of the mount.
func (m Mount) Kind() Kind {
	switch {
	case m.Type == EngineKV && m.Version == "2":
		return KindKV2
	case m.Type == EngineCubbyhole:
		return KindCubbyhole
	default:
		return KindKV1
	}
}

// ListPath is the backend path listing the keys under subPath.
func (m Mount) ListPath(subPath string) string {
	if m.Kind() == KindKV2 {
		return m.Name + "/metadata/" + subPath
	}
	if subPath == "" {
		return m.Name
	}
	return m.Name + "/" + subPath
}

// DataPath is the backend path reading secret name inside m.SubFolder.
func (m Mount) DataPath(name string) string {
	if m.Kind() == KindKV2 {
		return m.Name + "/data/" + m.SubFolder + name
	}
	return m.Name + "/" + m.SubFolder + name
}

// SecretRef is one listing entry. A trailing slash in Name denotes a folder.
type SecretRef struct {
	Name  string
	Mount Mount
}

// IsFolder reports whether the entry is a folder.
func (r SecretRef) IsFolder() bool {
	return strings.HasSuffix(r.Name, "/")
}

// Path is the entry's path relative to its mount, e.g. "app/db".
func (r SecretRef) Path() string {
	return r.Mount.SubFolder + r.Name
}

// Action is the next autonomous step of a session.
type Action string

const (
	ActionNone  Action = "none"
	ActionRenew Action = "renew"
	ActionLogin Action = "login"
)

// Status is a point-in-time view of a session for display.
type Status struct {
	Authenticated bool
	Renewable     bool
	TTL           time.Duration
	IssuedAt      time.Time
	ExpiresAt     time.Time
	NextAction    Action
	NextAt        time.Time
	LastError     string
}
