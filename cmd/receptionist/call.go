package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ent0n29/receptionist/internal/app"
	"github.com/ent0n29/receptionist/internal/config"
	"github.com/ent0n29/receptionist/internal/session"
	"github.com/ent0n29/receptionist/internal/tools"
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Talk to the receptionist from this terminal",
	Long: `Start a call on the local microphone and speaker.

Press Enter to hang up or call again, type q and Enter to quit.
With --latency the per-stage latency window is printed on exit.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		showLatency, _ := cmd.Flags().GetBool("latency")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		term := &terminal{out: cmd.OutOrStdout()}
		res, err := app.Build(ctx, cfg, app.Options{Observer: term.observer()})
		if err != nil {
			return err
		}
		defer res.Cleanup()

		fmt.Fprintf(term.out, "voice provider: %s\n", res.Voice.Detail)
		if err := res.Controller.Connect(ctx); err != nil {
			term.println("connect failed: " + session.FailureHint)
		}

		lines := make(chan string)
		go readLines(cmd.InOrStdin(), lines)
		for running := true; running; {
			select {
			case <-ctx.Done():
				running = false
			case line, ok := <-lines:
				if !ok || strings.EqualFold(strings.TrimSpace(line), "q") {
					running = false
					continue
				}
				if err := res.Controller.Connect(ctx); err != nil {
					term.println("connect failed: " + session.FailureHint)
				}
			}
		}
		res.Controller.Disconnect()

		if showLatency {
			enc := json.NewEncoder(term.out)
			enc.SetIndent("", "  ")
			return enc.Encode(res.Latency.Snapshot())
		}
		return nil
	},
}

func init() {
	callCmd.Flags().Bool("latency", false, "print the latency window on exit")
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// terminal renders controller notifications as a status line with a level meter.
type terminal struct {
	out io.Writer

	mu     sync.Mutex
	status session.Status
}

func (t *terminal) observer() session.Observer {
	return session.Observer{
		OnStatusChange: func(s session.Status) {
			t.mu.Lock()
			t.status = s
			t.mu.Unlock()
			t.println("status: " + statusLabel(s))
		},
		OnVolumeChange: func(level float64) {
			t.mu.Lock()
			defer t.mu.Unlock()
			if t.status != session.StatusConnected {
				return
			}
			fmt.Fprintf(t.out, "\r%-24s", meter(level, 20))
		},
		OnReservationCreated: func(a tools.Appointment) {
			t.println(fmt.Sprintf("reservation: %s, %s %s, %s, tel. %s",
				a.CustomerName, a.Date, a.Time, a.Procedure, a.Phone))
		},
	}
}

func (t *terminal) println(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "\r%-24s\r%s\n", "", line)
}

func statusLabel(s session.Status) string {
	switch s {
	case session.StatusConnecting:
		return "Свързване..."
	case session.StatusConnected:
		return "Разговор в ход (Enter за край)"
	case session.StatusError:
		return session.FailureHint
	default:
		return "Готовност (Enter за обаждане)"
	}
}

// volumeCeiling is the average spectrum level drawn as a full bar. Speech at a
// normal distance from the microphone averages well below 255.
const volumeCeiling = 40.0

func meter(level float64, width int) string {
	frac := level / volumeCeiling
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	n := int(frac*float64(width) + 0.5)
	return "[" + strings.Repeat("#", n) + strings.Repeat(" ", width-n) + "]"
}
