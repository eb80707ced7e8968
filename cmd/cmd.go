package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/bogorad/pb-agent-core/internal/domain/model"
)

const (
	ServiceName      = "pb-agent-core"
	ServiceNamespace = "bogorad"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, ServiceName)
	}
	return filepath.Join(".", ".pb-agent-core")
}

var stateDirFlag = &cli.StringFlag{
	Name:    "state-dir",
	Usage:   "directory holding the local-only keystore and session cache",
	EnvVars: []string{"PB_AGENT_STATE_DIR"},
	Value:   defaultStateDir(),
}

// Run builds and executes the CLI.
func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Long-running client agent for Pushbullet",
		Commands: []*cli.Command{
			agentCommand(),
		},
	}
	return app.Run(os.Args)
}

func agentCommand() *cli.Command {
	return &cli.Command{
		Name:  "agent",
		Usage: "manage the Pushbullet agent",
		Subcommands: []*cli.Command{
			runCmd(),
			loginCmd(),
			logoutCmd(),
			statusCmd(),
		},
	}
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "start the long-running agent process",
		Flags: []cli.Flag{
			stateDirFlag,
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the preferences config file (optional)",
			},
		},
		Action: func(c *cli.Context) error {
			rc := RunConfig{StateDir: c.String("state-dir"), ConfigFile: c.String("config")}
			if err := ensureStateDir(rc.StateDir); err != nil {
				return err
			}

			app := NewApp(rc)
			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("agent: shutting down")
			return app.Stop(context.Background())
		},
	}
}

func loginCmd() *cli.Command {
	return &cli.Command{
		Name:      "login",
		Usage:     "save a Pushbullet access token",
		ArgsUsage: "<token>",
		Flags:     []cli.Flag{stateDirFlag},
		Action: func(c *cli.Context) error {
			token := c.Args().First()
			if token == "" {
				return fmt.Errorf("cmd: login requires a token argument")
			}
			rc := RunConfig{StateDir: c.String("state-dir")}
			if err := ensureStateDir(rc.StateDir); err != nil {
				return err
			}
			st, err := provideStore(rc)
			if err != nil {
				return err
			}
			if err := st.SetToken(model.Token(token)); err != nil {
				return err
			}
			fmt.Println("token saved")
			return nil
		},
	}
}

func logoutCmd() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "clear the saved token and local cache",
		Flags: []cli.Flag{stateDirFlag},
		Action: func(c *cli.Context) error {
			rc := RunConfig{StateDir: c.String("state-dir")}
			st, err := provideStore(rc)
			if err != nil {
				return err
			}
			if err := st.Reset(); err != nil {
				return err
			}
			fmt.Println("logged out")
			return nil
		},
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "print the last known session state from the local cache",
		Flags: []cli.Flag{stateDirFlag},
		Action: func(c *cli.Context) error {
			rc := RunConfig{StateDir: c.String("state-dir")}
			st, err := provideStore(rc)
			if err != nil {
				return err
			}

			// This reads the local-only cache rather than querying a live
			// agent process over IPC — the spec's scope ends at the
			// in-process core, with no server-side endpoint for a status
			// RPC to call.
			if st.Token().Empty() {
				fmt.Println("state: IDLE (no token saved)")
				return nil
			}
			snap, ok := st.SessionCache()
			if !ok {
				fmt.Println("state: token saved, no cached session yet")
				return nil
			}
			fmt.Printf("authenticated: %v\n", snap.IsAuthenticated)
			fmt.Printf("user: %s <%s>\n", snap.User.Name, snap.User.Email)
			fmt.Printf("devices: %d\n", len(snap.Devices))
			fmt.Printf("recent pushes: %d\n", len(snap.RecentPushes))
			fmt.Printf("cutoff: %v\n", st.Cutoff())
			fmt.Printf("cached at: %s\n", snap.CachedAt.Format(time.RFC3339))
			return nil
		},
	}
}
