package commands

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultenv/internal/backend/fakes"
	"github.com/systmms/vaultenv/internal/controller"
	"github.com/systmms/vaultenv/internal/report"
)

type shellFixture struct {
	sh       *shell
	out      *bytes.Buffer
	reporter *report.Recorder
	envPath  string
}

func newShellFixture(t *testing.T, fake *fakes.Client) *shellFixture {
	t.Helper()

	cfg := setupCommand(t, fake, devConnection())
	reporter := &report.Recorder{}
	rt, err := newRuntime(context.Background(), cfg, reporter, io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close(context.Background()) })

	f := &shellFixture{
		out:      &bytes.Buffer{},
		reporter: reporter,
		envPath:  filepath.Join(t.TempDir(), ".env"),
	}
	f.sh = newShell(rt, f.out, f.envPath, "VaultEnv")
	return f
}

// exec runs line and returns what it printed.
func (f *shellFixture) exec(t *testing.T, line string) string {
	t.Helper()
	f.out.Reset()
	require.NoError(t, f.sh.Exec(context.Background(), line), line)
	return f.out.String()
}

func TestShell_Navigation(t *testing.T) {
	f := newShellFixture(t, catalogFake())

	assert.Equal(t, "/\n", f.exec(t, "pwd"))
	assert.Equal(t, "vaultenv:/> ", f.sh.Prompt())
	assert.Equal(t, "dev (disconnected)\n", f.exec(t, "ls"))

	f.exec(t, "cd dev/kv")
	assert.Equal(t, "/dev/kv/\n", f.exec(t, "pwd"))
	assert.Equal(t, "vaultenv:/dev/kv/> ", f.sh.Prompt())
	assert.Equal(t, "app/\ntop\n", f.exec(t, "ls"))
	assert.ElementsMatch(t, []string{"app/", "top"}, f.sh.candidates(""))

	f.exec(t, "cd app")
	assert.Equal(t, "/dev/kv/app/\n", f.exec(t, "pwd"))
	assert.Equal(t, "db\n", f.exec(t, "ls"))

	f.exec(t, "cd ..")
	assert.Equal(t, "/dev/kv/\n", f.exec(t, "pwd"))

	f.exec(t, "cd /dev")
	assert.Equal(t, "/dev/\n", f.exec(t, "pwd"))

	f.exec(t, "cd")
	assert.Equal(t, "/\n", f.exec(t, "pwd"))

	err := f.sh.Exec(context.Background(), "cd dev/kv/top")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a secret")
	assert.Empty(t, f.reporter.Messages())
}

func TestShell_Abs(t *testing.T) {
	f := newShellFixture(t, catalogFake())
	f.exec(t, "cd dev/kv/app")

	tests := []struct {
		arg  string
		want string
	}{
		{"db", "dev/kv/app/db"},
		{"./db", "dev/kv/app/db"},
		{"db/", "dev/kv/app/db/"},
		{"..", "dev/kv/"},
		{".", "dev/kv/app/"},
		{"../../..", ""},
		{"../../../../..", ""},
		{"/dev/kv", "dev/kv"},
		{"/dev/kv/", "dev/kv/"},
		{"/", ""},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			assert.Equal(t, tt.want, f.sh.abs(tt.arg))
		})
	}
}

func TestShell_FolderNextToSecret(t *testing.T) {
	fake := catalogFake().
		WithList("kv/metadata/", "app", "app/", "top").
		WithSecret("kv/data/app", map[string]any{"data": map[string]any{"name": "app"}})
	f := newShellFixture(t, fake)

	f.exec(t, "cd dev/kv/app")
	assert.Equal(t, "/dev/kv/app/\n", f.exec(t, "pwd"))
	assert.Equal(t, "db\n", f.exec(t, "ls"))
	assert.Equal(t, "PASSWORD=\"s3cr3t\"\nPORT=5432\n", f.exec(t, "read db"))
	assert.Equal(t, "NAME=\"app\"\n", f.exec(t, "read ../app"))

	f.exec(t, "cd ..")
	assert.Equal(t, "app/\napp\ntop\n", f.exec(t, "ls"))
}

func TestShell_ReadAndWrite(t *testing.T) {
	f := newShellFixture(t, catalogFake())

	assert.Equal(t, "PASSWORD=\"s3cr3t\"\nPORT=5432\n", f.exec(t, "read dev/kv/app/db"))

	f.exec(t, "cd dev/kv/app")
	assert.Equal(t, "Wrote 2 variable(s) to "+f.envPath+"\n", f.exec(t, "write db"))

	other := filepath.Join(filepath.Dir(f.envPath), "other.env")
	f.sh.SetOrigin("ci")
	f.exec(t, "write db "+other)

	data, err := os.ReadFile(f.envPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "#VaultEnv ==> dev -> kv -> app/db -> ")

	data, err = os.ReadFile(other)
	require.NoError(t, err)
	assert.Contains(t, string(data), "#ci ==> dev -> kv -> app/db -> ")

	err = f.sh.Exec(context.Background(), "read")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Missing secret")
}

func TestShell_ConnectionLifecycle(t *testing.T) {
	f := newShellFixture(t, catalogFake())

	assert.Equal(t, "Connected to /dev/\n", f.exec(t, "connect dev"))

	status := f.exec(t, "status dev")
	assert.Contains(t, status, "Authenticated:")
	assert.Contains(t, status, "true")
	assert.Contains(t, status, "connected")

	servers := f.exec(t, "servers")
	assert.Contains(t, servers, "http://vault.local:8200")

	f.exec(t, "cd dev/kv")
	assert.Equal(t, "Disconnected from /dev/\n", f.exec(t, "disconnect"))
	assert.Equal(t, "/\n", f.exec(t, "pwd"))
	assert.Equal(t, "dev (disconnected)\n", f.exec(t, "ls"))

	err := f.sh.Exec(context.Background(), "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No server selected")
}

func TestShell_FailuresAreReportedOnce(t *testing.T) {
	fake := catalogFake().WithError(fakes.OpLookup, errors.New("permission denied"))
	f := newShellFixture(t, fake)

	err := f.sh.Exec(context.Background(), "connect dev")
	require.Error(t, err)
	assert.True(t, controller.IsReported(err))
	assert.Equal(t, []string{"Unable to connect to Vault (auth lookup-self failed: permission denied)"}, f.reporter.Messages())

	err = f.sh.Exec(context.Background(), "connect prod")
	require.Error(t, err)
	assert.False(t, controller.IsReported(err))
	assert.Contains(t, err.Error(), `Unknown server "prod"`)
}

func TestShell_LazyLoadFailureLeavesPlaceholder(t *testing.T) {
	fake := catalogFake().WithError("kv/metadata/", errors.New("internal error"))
	f := newShellFixture(t, fake)

	f.exec(t, "cd dev/kv")
	assert.Equal(t, "(empty)\n", f.exec(t, "ls"))
	assert.Equal(t, []string{"Vault Error: (vault list kv/metadata/ failed: internal error)"}, f.reporter.Messages())

	err := f.sh.Exec(context.Background(), "refresh")
	require.Error(t, err)
	assert.True(t, controller.IsReported(err))
	assert.Len(t, f.reporter.Messages(), 2)
}

func TestShell_Commands(t *testing.T) {
	f := newShellFixture(t, catalogFake())

	help := f.exec(t, "help")
	for _, name := range []string{"servers", "connect", "disconnect", "cd", "ls", "refresh", "read", "write", "status", "tree", "pwd", "exit"} {
		assert.Contains(t, help, name)
	}

	assert.Empty(t, f.exec(t, "   "))

	err := f.sh.Exec(context.Background(), "rm -rf /")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `Unknown command "rm"`)

	assert.ErrorIs(t, f.sh.Exec(context.Background(), "exit"), errQuit)
	assert.ErrorIs(t, f.sh.Exec(context.Background(), "quit"), errQuit)

	tree := f.exec(t, "tree dev/kv")
	assert.Equal(t, "/dev/kv/\n├── app/\n│   └── db\n└── top\n", tree)
}
