package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/linanwx/clawlink/bus"
	"github.com/linanwx/clawlink/queue"
	"github.com/linanwx/clawlink/storage"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the offline call queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued calls in replay order",
	RunE:  runQueueList,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every queued call",
	RunE:  runQueueClear,
}

var queueAddCmd = &cobra.Command{
	Use:   "add <function> [key=value ...]",
	Short: "Queue a call for replay on the next connection",
	Long: `Append a call to the offline queue without executing it.

Example:
  clawlink queue add create_task title="Buy milk" priority=low`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQueueAdd,
}

var queueSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Connect and replay queued calls",
	RunE:  runQueueSync,
}

var (
	queueAddID      string
	queueSyncWait   time.Duration
	queueClearForce bool
)

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueClearCmd)
	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueSyncCmd)

	queueAddCmd.Flags().StringVar(&queueAddID, "id", "", "Call id (random when empty)")
	queueClearCmd.Flags().BoolVar(&queueClearForce, "force", false, "Do not ask for confirmation")
	queueSyncCmd.Flags().DurationVar(&queueSyncWait, "timeout", time.Minute, "Time to wait for the connection and replay")
}

// openQueue loads the queue without building the full runtime.
func openQueue() (*queue.Queue, storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	storePath, err := cfg.StoragePath()
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.Open(cfg.Storage.Driver, storePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	q := queue.New(store, queue.Options{Key: cfg.Queue.Key, MaxRetries: cfg.Queue.MaxRetries})
	q.Load()
	return q, store, nil
}

func runQueueList(_ *cobra.Command, _ []string) error {
	q, store, err := openQueue()
	if err != nil {
		return err
	}
	defer store.Close()

	calls := q.Pending()
	if len(calls) == 0 {
		fmt.Println("Offline queue is empty.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFUNCTION\tQUEUED\tRETRIES\tPARAMETERS")
	fmt.Fprintln(w, "--\t--------\t------\t-------\t----------")
	for _, call := range calls {
		params := "{}"
		if call.Parameters != nil {
			if data, err := call.Parameters.MarshalJSON(); err == nil {
				params = string(data)
			}
		}
		if len(params) > 40 {
			params = params[:40] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", call.ID, call.Name, call.Timestamp.Local().Format(time.DateTime), call.RetryCount, params)
	}
	w.Flush()
	return nil
}

func runQueueClear(_ *cobra.Command, _ []string) error {
	q, store, err := openQueue()
	if err != nil {
		return err
	}
	defer store.Close()

	n := q.Count()
	if n == 0 {
		fmt.Println("Offline queue is already empty.")
		return nil
	}
	if !queueClearForce {
		ok, err := confirm(fmt.Sprintf("Drop %d queued call(s)?", n))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}
	if err := q.Clear(); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	fmt.Printf("Dropped %d queued call(s).\n", n)
	return nil
}

func runQueueAdd(_ *cobra.Command, args []string) error {
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}
	q, store, err := openQueue()
	if err != nil {
		return err
	}
	defer store.Close()

	call := queue.NewCall(queueAddID, args[0], params)
	if err := q.Enqueue(call); err != nil {
		return fmt.Errorf("failed to persist queue: %w", err)
	}
	fmt.Printf("Queued %s as %s (%d pending).\n", call.Name, call.ID, q.Count())
	return nil
}

func runQueueSync(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.URL == "" {
		return fmt.Errorf("server url not configured")
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.queue.Count() == 0 {
		fmt.Println("Offline queue is empty.")
		return nil
	}
	// The connect edge starts the replay; the session reports when it is done.
	synced := make(chan bus.QueueSyncedData, 1)
	rt.bus.Subscribe(bus.EventQueueSynced, func(_ context.Context, e *bus.Event) {
		var data bus.QueueSyncedData
		if err := e.ParseData(&data); err != nil {
			return
		}
		select {
		case synced <- data:
		default:
		}
	})

	if err := rt.session.Connect(cfg.Server.URL); err != nil {
		return err
	}
	if err := rt.waitConnected(queueSyncWait); err != nil {
		return err
	}

	timer := time.NewTimer(queueSyncWait)
	defer timer.Stop()
	select {
	case data := <-synced:
		fmt.Printf("Replayed %d call(s), %d requeued, %d dropped, %d pending.\n",
			data.Executed, data.Requeued, data.Dropped, data.Pending)
	case <-timer.C:
		return fmt.Errorf("replay not finished after %s (%d pending)", queueSyncWait, rt.queue.Count())
	}
	return nil
}
