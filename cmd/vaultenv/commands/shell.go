package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/systmms/vaultenv/internal/catalog"
	"github.com/systmms/vaultenv/internal/controller"
	"github.com/systmms/vaultenv/internal/envfile"
	dserrors "github.com/systmms/vaultenv/internal/errors"
	"github.com/systmms/vaultenv/internal/logging"
)

// errQuit ends the shell loop.
var errQuit = errors.New("quit")

type shellCommand struct {
	usage string
	help  string
	path  bool
	run   func(ctx context.Context, args []string) error
}

// shell is the interactive browser over a runtime's catalog. It keeps a
// current node that relative paths are resolved against.
type shell struct {
	rt     *runtime
	out    io.Writer
	logger *logging.Logger
	now    func() time.Time

	// outPath is the default target of write.
	outPath string

	mu     sync.Mutex
	cwd    catalog.NodeID
	origin string

	commands map[string]shellCommand
}

func newShell(rt *runtime, out io.Writer, outPath, origin string) *shell {
	s := &shell{
		rt:      rt,
		out:     out,
		logger:  rt.cfg.Logger,
		now:     time.Now,
		outPath: outPath,
		origin:  origin,
		cwd:     catalog.Root,
	}

	s.commands = map[string]shellCommand{
		"servers":    {usage: "servers", help: "List the configured servers", run: s.servers},
		"connect":    {usage: "connect [server]", help: "Log in to a server", path: true, run: s.connect},
		"disconnect": {usage: "disconnect [server]", help: "Log out and forget the server's tree", path: true, run: s.disconnect},
		"cd":         {usage: "cd [path]", help: "Change the current node", path: true, run: s.cd},
		"pwd":        {usage: "pwd", help: "Print the current node", run: s.pwd},
		"ls":         {usage: "ls [path]", help: "List the children of a node", path: true, run: s.ls},
		"tree":       {usage: "tree [path]", help: "Print the loaded tree below a node", path: true, run: s.tree},
		"refresh":    {usage: "refresh [path]", help: "Reload the children of a node", path: true, run: s.refresh},
		"read":       {usage: "read <secret>", help: "Print the variables of a secret", path: true, run: s.read},
		"write":      {usage: "write <secret> [file]", help: "Append a secret to a .env file", path: true, run: s.write},
		"status":     {usage: "status [server]", help: "Show the token state of a server", path: true, run: s.status},
		"help":       {usage: "help", help: "Show this help", run: s.help},
		"exit":       {usage: "exit", help: "Leave the browser", run: func(context.Context, []string) error { return errQuit }},
	}
	s.commands["quit"] = s.commands["exit"]

	return s
}

// SetOrigin changes the origin of blocks written from now on.
func (s *shell) SetOrigin(origin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.origin = origin
}

func (s *shell) currentOrigin() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.origin
}

func (s *shell) current() catalog.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The current node is dropped by a disconnect or a reload.
	if _, ok := s.rt.tree.Node(s.cwd); !ok {
		s.cwd = catalog.Root
	}
	return s.cwd
}

func (s *shell) setCurrent(id catalog.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cwd = id
}

// Prompt renders the current node, e.g. "vaultenv:/dev/kv/> ".
func (s *shell) Prompt() string {
	return fmt.Sprintf("vaultenv:%s> ", s.rt.tree.ID(s.current()))
}

// Exec runs one command line. It returns errQuit when the shell should end.
func (s *shell) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	cmd, ok := s.commands[fields[0]]
	if !ok {
		return dserrors.UserError{
			Message:    fmt.Sprintf("Unknown command %q", fields[0]),
			Suggestion: "Type 'help' to list the commands",
		}
	}
	return cmd.run(ctx, fields[1:])
}

// Run reads command lines from in until exit, EOF or ctx is done. Errors of
// commands are logged; failures already sent to the reporter are not
// printed twice.
func (s *shell) Run(ctx context.Context, in io.ReadCloser) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          s.Prompt(),
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           in,
		Stdout:          s.out,
	})
	if err != nil {
		return fmt.Errorf("failed to start the shell: %w", err)
	}
	defer rl.Close()

	go func() {
		<-ctx.Done()
		_ = rl.Close()
	}()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := s.Exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			if !controller.IsReported(err) {
				s.logger.Error("%v", err)
			}
		}
		rl.SetPrompt(s.Prompt())
	}
}

func (s *shell) completer() *readline.PrefixCompleter {
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	items := make([]readline.PrefixCompleterInterface, 0, len(names))
	for _, name := range names {
		if s.commands[name].path {
			items = append(items, readline.PcItem(name, readline.PcItemDynamic(s.candidates)))
			continue
		}
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

// candidates lists the already loaded children of the current node. It never
// talks to a server.
func (s *shell) candidates(string) []string {
	children, _ := s.rt.tree.Children(s.current())
	var out []string
	for _, id := range children {
		if info, ok := s.rt.tree.Node(id); ok && info.Kind != catalog.KindEmpty {
			out = append(out, info.Label)
		}
	}
	return out
}

// abs turns a shell path into a path from the root. Paths starting with "/"
// are absolute; ".." climbs one level. A path that names a directory (a
// trailing slash, "." or "..") keeps a trailing slash so that it resolves to
// a folder rather than a sibling secret of the same name.
func (s *shell) abs(arg string) string {
	base := ""
	if !strings.HasPrefix(arg, "/") {
		base = s.rt.tree.ID(s.current())
	}

	segments := controller.SplitPath(arg)
	dir := strings.HasSuffix(arg, "/")
	if len(segments) > 0 {
		last := segments[len(segments)-1]
		dir = dir || last == "." || last == ".."
	}

	var parts []string
	for _, segment := range controller.SplitPath(base + "/" + arg) {
		switch segment {
		case ".":
		case "..":
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
		default:
			parts = append(parts, segment)
		}
	}

	path := strings.Join(parts, "/")
	if dir && path != "" {
		path += "/"
	}
	return path
}

// containerPath is abs for commands that operate on servers, mounts and
// folders.
func (s *shell) containerPath(arg string) string {
	path := s.abs(arg)
	if path != "" && !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path
}

// target resolves the optional path argument, defaulting to the current
// node.
func (s *shell) target(ctx context.Context, args []string) (catalog.NodeID, error) {
	if len(args) == 0 {
		return s.current(), nil
	}
	return s.rt.ctl.Resolve(ctx, s.containerPath(args[0]))
}

// server returns the server node owning id.
func (s *shell) server(id catalog.NodeID) (catalog.NodeID, error) {
	for id != catalog.Root {
		info, ok := s.rt.tree.Node(id)
		if !ok {
			return 0, catalog.ErrUnknownNode
		}
		if info.Kind == catalog.KindServer {
			return id, nil
		}
		id = info.Parent
	}
	return 0, dserrors.UserError{
		Message:    "No server selected",
		Suggestion: "Name a server or 'cd' into one",
	}
}

// serverArg finds the server named by args, or the current one. It does not
// connect.
func (s *shell) serverArg(args []string) (catalog.NodeID, error) {
	if len(args) == 0 {
		return s.server(s.current())
	}
	segments := controller.SplitPath(s.abs(args[0]))
	if len(segments) == 0 {
		return s.server(catalog.Root)
	}
	id, ok := s.rt.tree.Lookup(catalog.Root, segments[0])
	if !ok {
		return 0, dserrors.UserError{
			Message:    fmt.Sprintf("Unknown server %q", segments[0]),
			Suggestion: "Type 'servers' to list the configured servers",
		}
	}
	return id, nil
}

func (s *shell) servers(context.Context, []string) error {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("NAME", "STATE", "ENDPOINT")
	for _, id := range s.rt.tree.Servers() {
		info, ok := s.rt.tree.Node(id)
		if !ok {
			continue
		}
		conn, _ := s.rt.tree.Connection(id)
		table.AddRow(info.Label, info.State, conn.Endpoint)
	}
	fmt.Fprintln(s.out, table)
	return nil
}

func (s *shell) connect(ctx context.Context, args []string) error {
	id, err := s.serverArg(args)
	if err != nil {
		return err
	}
	if err := s.rt.ctl.Connect(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Connected to %s\n", s.rt.tree.ID(id))
	return nil
}

func (s *shell) disconnect(_ context.Context, args []string) error {
	id, err := s.serverArg(args)
	if err != nil {
		return err
	}
	if err := s.rt.ctl.Disconnect(id); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Disconnected from %s\n", s.rt.tree.ID(id))
	return nil
}

func (s *shell) cd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		s.setCurrent(catalog.Root)
		return nil
	}
	id, err := s.rt.ctl.Resolve(ctx, s.containerPath(args[0]))
	if err != nil {
		return err
	}
	if id != catalog.Root {
		info, _ := s.rt.tree.Node(id)
		if !info.Expandable() {
			return dserrors.UserError{Message: fmt.Sprintf("%s is a %s", s.rt.tree.ID(id), info.Kind)}
		}
	}
	s.setCurrent(id)
	return nil
}

func (s *shell) pwd(context.Context, []string) error {
	fmt.Fprintln(s.out, s.rt.tree.ID(s.current()))
	return nil
}

func (s *shell) ls(ctx context.Context, args []string) error {
	id, err := s.target(ctx, args)
	if err != nil {
		return err
	}
	if id != catalog.Root {
		if err := s.rt.ctl.EnsureConnected(ctx, id); err != nil {
			return err
		}
	}

	// Lazy loads report their failures and leave a placeholder behind.
	children, err := s.rt.ctl.GetChildren(ctx, id)
	if err != nil {
		return err
	}
	for _, c := range children {
		switch c.Kind {
		case catalog.KindServer:
			fmt.Fprintf(s.out, "%s (%s)\n", c.Label, c.State)
		default:
			fmt.Fprintln(s.out, displayLabel(c))
		}
	}
	return nil
}

func (s *shell) tree(ctx context.Context, args []string) error {
	id, err := s.target(ctx, args)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, s.rt.tree.ID(id))
	return writeTree(ctx, s.out, s.rt.ctl, id, "", 0)
}

func (s *shell) refresh(ctx context.Context, args []string) error {
	id, err := s.target(ctx, args)
	if err != nil {
		return err
	}
	if id == catalog.Root {
		for _, server := range s.rt.tree.Servers() {
			if info, ok := s.rt.tree.Node(server); ok && info.State != catalog.StateDisconnected {
				if err := s.rt.ctl.Refresh(ctx, server); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return s.rt.ctl.Refresh(ctx, id)
}

func (s *shell) secretArg(ctx context.Context, args []string, usage string) (catalog.NodeID, error) {
	if len(args) == 0 {
		return 0, dserrors.UserError{Message: "Missing secret", Suggestion: usage}
	}
	return resolveSecret(ctx, s.rt.ctl, s.abs(args[0]))
}

func (s *shell) read(ctx context.Context, args []string) error {
	id, err := s.secretArg(ctx, args, s.commands["read"].usage)
	if err != nil {
		return err
	}
	pairs, err := s.rt.ctl.Read(ctx, id)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		fmt.Fprintln(s.out, p.String())
	}
	return nil
}

func (s *shell) write(ctx context.Context, args []string) error {
	id, err := s.secretArg(ctx, args, s.commands["write"].usage)
	if err != nil {
		return err
	}
	path := s.outPath
	if len(args) > 1 {
		path = args[1]
	}

	n, err := s.rt.ctl.Write(ctx, id, &envfile.Writer{
		Path:   path,
		Origin: s.currentOrigin(),
		Stdout: s.out,
	})
	if err != nil {
		return err
	}
	if path != envfile.Stdout {
		fmt.Fprintf(s.out, "Wrote %d variable(s) to %s\n", n, path)
	}
	return nil
}

func (s *shell) status(_ context.Context, args []string) error {
	id, err := s.serverArg(args)
	if err != nil {
		return err
	}
	info, _ := s.rt.tree.Node(id)
	st, err := s.rt.tree.Status(id)
	if err != nil {
		return err
	}

	table := uitable.New()
	table.MaxColWidth = 80
	table.AddRow("Server:", info.Label)
	table.AddRow("State:", info.State)
	table.AddRow("Authenticated:", st.Authenticated)
	if st.Authenticated {
		table.AddRow("Renewable:", st.Renewable)
		if st.TTL > 0 {
			table.AddRow("TTL:", st.TTL)
			table.AddRow("Expires:", humanize.RelTime(st.ExpiresAt, s.now(), "ago", "from now"))
		}
		if st.NextAction != "" && !st.NextAt.IsZero() {
			table.AddRow("Next:", fmt.Sprintf("%s %s", st.NextAction, humanize.RelTime(st.NextAt, s.now(), "ago", "from now")))
		}
	}
	if st.LastError != "" {
		table.AddRow("Last error:", st.LastError)
	}
	fmt.Fprintln(s.out, table)
	return nil
}

func (s *shell) help(context.Context, []string) error {
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		if name != "quit" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	table := uitable.New()
	for _, name := range names {
		table.AddRow(s.commands[name].usage, s.commands[name].help)
	}
	fmt.Fprintln(s.out, table)
	return nil
}
