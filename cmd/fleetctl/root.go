package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"fleetconsole/internal/api"
	"fleetconsole/internal/auth"
	"fleetconsole/internal/config"
	"fleetconsole/internal/console"
	"fleetconsole/internal/logger"
)

const (
	exitOK           = 0
	exitError        = 1
	exitLoginNeeded  = 2
	exitInterrupted  = 130
	annotationTUI    = "tui"
	annotationNoAuth = "no-auth"
)

// app is the state shared by every command of one invocation.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	viper   *viper.Viper
	cfgFile string

	cfg     *config.Config
	log     *logrus.Logger
	store   *auth.Store
	session *auth.Session
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{in: in, out: out, errOut: errOut, viper: viper.New()}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "fleetctl",
		Short: "Operator console for a FleetUpdate server",
		Long: `fleetctl lists the agents a FleetUpdate server manages, dispatches
apt upgrades and sudo checks, follows command logs and runs a live
terminal dashboard.

Examples:
  fleetctl login --username admin
  fleetctl agents --filter outdated
  fleetctl upgrade vm1
  fleetctl watch`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default ./fleetctl.yaml or $FLEETCTL_HOME/fleetctl.yaml)")
	flags.String("server", "", "FleetUpdate server URL")
	flags.String("token", "", "bearer token, overrides the stored credential")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	bindFlags(a.viper, flags, map[string]string{
		"server":    "server.url",
		"token":     "auth.token",
		"log-level": "log.level",
	})

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newAgentsCmd(a),
		newShowCmd(a),
		newUpgradeCmd(a),
		newSudoCheckCmd(a),
		newTailCmd(a),
		newWatchCmd(a),
		newMetricsCmd(a),
		newHealthCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup loads configuration, builds the logger and restores the session.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.NewLoader(a.viper, a.cfgFile).Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	if cmd.Annotations[annotationTUI] == "true" {
		a.log, err = logger.ForTUI(cfg.Log)
	} else {
		a.log, err = logger.New(cfg.Log)
	}
	if err != nil {
		return errors.Wrap(err, "init logger")
	}

	path, err := cfg.CredentialsPath()
	if err != nil {
		return err
	}
	a.store = auth.NewStore(path)

	// A token given by flag or config is used as is: its session has no
	// store, so rejecting it never touches the saved login.
	if cfg.Auth.Token != "" {
		a.session = auth.NewSession(cfg.Auth.Token, nil)
	} else {
		cred, err := a.store.Load()
		if err != nil {
			a.log.WithError(err).Warn("ignoring unreadable credentials file")
		}
		a.session = auth.NewSession(cred.Token, a.store)
	}

	if cmd.Annotations[annotationNoAuth] != "true" && !a.session.Valid() {
		return auth.ErrNoCredential
	}
	return nil
}

func (a *app) client() *api.Client {
	return api.NewClient(a.cfg.Server.URL, a.session,
		api.WithTimeout(a.cfg.API.RequestTimeout),
		api.WithLogger(logger.Component(a.log, "api")),
	)
}

func (a *app) console() *console.Console {
	return console.New(a.client(), console.WithLogger(a.log))
}

// bindFlags maps flag names to config keys so an explicitly set flag wins
// over file and environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}
}

// execute runs one invocation and maps its error to an exit code.
func execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	a := newApp(in, out, errOut)
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.Is(err, console.ErrLoginRequired),
		errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, auth.ErrNoCredential):
		a.forget(err)
		fmt.Fprintf(errOut, "error: %v\nrun fleetctl login to sign in again\n", err)
		return exitLoginNeeded
	}
	fmt.Fprintf(errOut, "error: %v\n", err)
	for _, hint := range errors.GetAllHints(err) {
		fmt.Fprintf(errOut, "hint: %s\n", hint)
	}
	return exitError
}

// forget drops a credential the server rejected. Only a session restored
// from the store removes the saved file.
func (a *app) forget(err error) {
	if a.session == nil || !errors.Is(err, auth.ErrUnauthorized) {
		return
	}
	if ierr := a.session.Invalidate(); ierr != nil && a.log != nil {
		a.log.WithError(ierr).Warn("failed to remove stored credential")
	}
}

// stdinFile returns in as a file when it is one, for terminal detection.
func stdinFile(in io.Reader) (*os.File, bool) {
	f, ok := in.(*os.File)
	return f, ok
}
