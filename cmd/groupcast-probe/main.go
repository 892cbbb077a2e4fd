// Program groupcast-probe drives a small in-memory groupcast cluster from
// the command line, for manual testing and demonstration of the dispatcher
// without any real network transport.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banyan-group/groupcast"
	"github.com/banyan-group/groupcast/cluster"
	"github.com/creachadair/command"
)

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Drive a small in-memory groupcast cluster for manual testing.",
		Commands: []*command.C{
			{
				Name:  "cast",
				Usage: "<message>",
				Help:  "Cast a message to every member of an N-member local cluster and print the responses.",
				SetFlags: func(_ *command.Env, fs *flag.FlagSet) {
					fs.IntVar(&castSize, "n", 3, "number of cluster members")
					fs.DurationVar(&castTimeout, "timeout", 5*time.Second, "call timeout")
					fs.StringVar(&castMode, "mode", "all", "completion mode: none, first, majority, all")
				},
				Run: func(env *command.Env) error {
					if len(env.Args) == 0 {
						return env.Usagef("missing message argument")
					}
					return runCast(strings.Join(env.Args, " "))
				},
			},
			{
				Name: "probe",
				Help: "Cast a message, then print the diagnostics probe output for the sending member.",
				SetFlags: func(_ *command.Env, fs *flag.FlagSet) {
					fs.IntVar(&castSize, "n", 3, "number of cluster members")
				},
				Run: func(env *command.Env) error {
					return runProbe()
				},
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

var (
	castSize    = 3
	castTimeout = 5 * time.Second
	castMode    = "all"
)

func parseMode(s string) groupcast.ResponseMode {
	switch s {
	case "none":
		return groupcast.GetNone
	case "first":
		return groupcast.GetFirst
	case "majority":
		return groupcast.GetMajority
	default:
		return groupcast.GetAll
	}
}

func runCast(message string) error {
	c := cluster.NewLocal(castSize)
	defer c.Stop()

	for _, d := range c.Members {
		d.WithHandler(echoHandler)
	}

	ctx, cancel := context.WithTimeout(context.Background(), castTimeout)
	defer cancel()

	sender := c.Members[0]
	opts := groupcast.Sync().WithMode(parseMode(castMode)).WithTimeout(castTimeout)
	rsp, err := sender.CastMessage(ctx, nil, []byte(message), opts)
	if err != nil {
		return fmt.Errorf("cast failed: %w", err)
	}

	fmt.Printf("sent %q from %v to %d member(s)\n", message, sender.LocalAddress(), rsp.Len())
	for _, addr := range rsp.Addresses() {
		v, _ := rsp.Get(addr)
		fmt.Printf("  %v: %v\n", addr, v)
	}
	return nil
}

func runProbe() error {
	c := cluster.NewLocal(castSize)
	defer c.Stop()

	for _, d := range c.Members {
		d.WithHandler(echoHandler)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sender := c.Members[0]
	if _, err := sender.CastMessage(ctx, nil, []byte("probe"), groupcast.Sync()); err != nil {
		return fmt.Errorf("cast failed: %w", err)
	}

	probe := groupcast.NewDiagnosticsProbe(sender)
	out := probe.HandleProbe("rpcs", "rpcs-enable-details")
	for k, v := range out {
		fmt.Printf("%s: %s\n", k, v)
	}
	return nil
}

func echoHandler(_ context.Context, req *groupcast.Request) ([]byte, error) {
	return req.Data, nil
}
