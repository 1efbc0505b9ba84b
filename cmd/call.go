package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/linanwx/clawlink/protocol"
)

var callCmd = &cobra.Command{
	Use:   "call <function> [key=value ...]",
	Short: "Run a function locally or ask the server to run it",
	Long: `Run a registered function. Parameters are key=value pairs; keys may be
dotted paths and values that parse as JSON keep their type.

Without --remote the call runs locally. It executes now when the server is
reachable and is queued for replay otherwise. With --remote the server runs the
call and its result is printed.

Examples:
  clawlink call create_task title="Write report" priority=high
  clawlink call create_calendar_event title=Standup date=2026-01-15T09:00:00Z duration=15
  clawlink call --remote lookup_contact query=alice`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

var (
	callRemote  bool
	callTimeout time.Duration
)

func init() {
	callCmd.Flags().BoolVar(&callRemote, "remote", false, "Send the call to the server instead of running it locally")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 30*time.Second, "Time to wait for the connection and result")
	rootCmd.AddCommand(callCmd)
}

func runCall(_ *cobra.Command, args []string) error {
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	connected := false
	if cfg.Server.URL != "" {
		if err := rt.session.Connect(cfg.Server.URL); err != nil {
			return err
		}
		connected = rt.waitConnected(callTimeout) == nil
	}

	// --timeout bounds connecting and the call separately.
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	if callRemote {
		if !connected {
			return fmt.Errorf("server not reachable; remote calls need a connection")
		}
		result, err := rt.session.Call(ctx, args[0], params)
		if err != nil {
			return err
		}
		return printValue(result)
	}

	res, err := rt.session.Dispatch(ctx, args[0], params)
	if err != nil {
		return err
	}
	if res.Queued {
		fmt.Printf("Call %s queued (%d pending). It runs on the next connection.\n", res.ID, rt.queue.Count())
		return nil
	}
	return printValue(res.Result)
}

func printValue(v protocol.Value) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
