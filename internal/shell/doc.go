// Package shell provides the process and filesystem proxy tasks use.
//
// A Proxy runs shell commands and programs as supervised child processes,
// captures their output, and offers a handful of filesystem helpers
// modeled on the classic shell built-ins.
//
// # Commands
//
//	p := shell.New(shell.DefaultConfig())
//	defer p.Shutdown(5 * time.Second)
//
//	// Through $SHELL -c
//	res, err := p.Run(ctx, shell.Cmd{Command: "go vet ./..."})
//
//	// Direct exec
//	res, err = p.Run(ctx, shell.Cmd{Name: "git", Args: []string{"status"}})
//
// Run returns an error only when the process cannot be started or the
// context ends. A non-zero exit is reported through Result.Code; use
// Result.Err to turn it into an error.
//
// # Cancellation
//
// Every child runs in its own process group. When the command's context
// ends, the whole group is killed.
//
// # Retries
//
// RunRetry retries failed attempts with exponential backoff. It exists for
// task bodies that want private retries; the pipeline itself never retries.
//
// # Filesystem
//
//	p.Test("-d", "dist")
//	p.Mkdir("dist/js", "dist/css")
//	p.Rm("dist")
//	p.Cp("assets", "dist/assets")
//
// Relative paths resolve against Config.Dir.
//
// # Thread Safety
//
// Proxy and Supervisor are safe for concurrent use.
package shell
