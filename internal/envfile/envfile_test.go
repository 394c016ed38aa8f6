package envfile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultenv/internal/flatten"
)

var stamp = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func block() Block {
	return Block{
		Server: "dev",
		Mount:  "kv",
		Secret: "app/db",
		Pairs: []flatten.Pair{
			{Key: "PASSWORD", Value: `"s3cr3t"`},
			{Key: "PORT", Value: "5432"},
		},
	}
}

func TestHeader(t *testing.T) {
	t.Parallel()

	b := block()
	b.Time = time.Date(2024, 3, 1, 13, 30, 5, 123456789, time.FixedZone("CET", 3600))
	assert.Equal(t, "#VaultEnv ==> dev -> kv -> app/db -> 2024-03-01T12:30:05.123Z", b.Header())

	b.Origin = "Acme"
	assert.Equal(t, "#Acme ==> dev -> kv -> app/db -> 2024-03-01T12:30:05.123Z", b.Header())
}

func TestRender(t *testing.T) {
	t.Parallel()

	b := block()
	b.Time = stamp
	want := "#VaultEnv ==> dev -> kv -> app/db -> 2024-03-01T12:00:00.000Z\n\nPASSWORD=\"s3cr3t\"\nPORT=5432\n"

	tests := []struct {
		name string
		prev string
		want string
	}{
		{"empty target", "", want},
		{"newline terminated target", "\n", "\n" + want},
		{"unterminated target", "X", "\n\n" + want},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, b.Render(tt.prev))
		})
	}
}

func TestWriter_AppendsToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	w := &Writer{Path: path, Clock: testclock.NewClock(stamp)}

	n, err := w.Append(block())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	second := block()
	second.Secret = "app/api"
	second.Pairs = []flatten.Pair{{Key: "TOKEN", Value: `"abc"`}}
	_, err = w.Append(second)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"#VaultEnv ==> dev -> kv -> app/db -> 2024-03-01T12:00:00.000Z\n\n"+
			"PASSWORD=\"s3cr3t\"\nPORT=5432\n"+
			"\n"+
			"#VaultEnv ==> dev -> kv -> app/api -> 2024-03-01T12:00:00.000Z\n\n"+
			"TOKEN=\"abc\"\n",
		string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWriter_SeparatesExistingContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("EXISTING=1"), 0o644))

	w := &Writer{Path: path, Origin: "Acme", Clock: testclock.NewClock(stamp)}
	_, err := w.Append(block())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"EXISTING=1\n\n#Acme ==> dev -> kv -> app/db -> 2024-03-01T12:00:00.000Z\n\nPASSWORD=\"s3cr3t\"\nPORT=5432\n",
		string(data))
}

func TestWriter_Stdout(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	w := &Writer{Path: Stdout, Stdout: &out, Clock: testclock.NewClock(stamp)}

	_, err := w.Append(block())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "#VaultEnv ==> dev -> kv -> app/db -> 2024-03-01T12:00:00.000Z\n\n")
	assert.Contains(t, out.String(), "PORT=5432\n")
}

func TestWriter_EmptySecret(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	w := &Writer{Path: Stdout, Stdout: &out, Clock: testclock.NewClock(stamp)}

	b := block()
	b.Pairs = nil
	n, err := w.Append(b)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "#VaultEnv ==> dev -> kv -> app/db -> 2024-03-01T12:00:00.000Z\n\n", out.String())
}

func TestWriter_OpenFailure(t *testing.T) {
	t.Parallel()

	w := &Writer{Path: filepath.Join(t.TempDir(), "missing", ".env")}
	_, err := w.Append(block())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open")
}
