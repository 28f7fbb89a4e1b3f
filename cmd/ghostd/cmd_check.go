package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/ghostd/internal/overlay"
	"github.com/user/ghostd/internal/protocol"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

// checkCmd attaches to the daemon as a page context would and renders the
// full session stream for one claim. Useful for exercising the pipeline
// without a browser.
var checkCmd = &cobra.Command{
	Use:   "check <claim>",
	Short: "Fact-check a claim and stream the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	updates := make(chan overlay.DisplayState, 64)
	client, err := overlay.Dial(cmd.Context(), "http://"+cfg.Listen,
		overlay.WithOnUpdate(func(s overlay.DisplayState) {
			select {
			case updates <- s:
			default:
			}
		}))
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Check(args[0]); err != nil {
		return err
	}

	return render(cmd.Context(), client, updates)
}

// render prints each source once it settles and streams the verdict text as
// it arrives.
func render(ctx context.Context, client *overlay.Client, updates chan overlay.DisplayState) error {
	printed := make(map[string]protocol.SourceStatus)
	verdictAt := 0
	inVerdict := false

	show := func(s overlay.DisplayState) (done bool, err error) {
		if s.Stage == overlay.StageError {
			if inVerdict {
				fmt.Fprintln(os.Stdout)
			}
			return true, fmt.Errorf("%s", s.ErrorMessage)
		}
		for _, src := range s.Sources {
			if printed[src.URL] == src.Status {
				continue
			}
			printed[src.URL] = src.Status
			if src.Status.Terminal() {
				fmt.Fprintf(os.Stdout, "  %-12s %s  %s\n", src.Status, src.Domain, src.Verdict)
			} else {
				fmt.Fprintf(os.Stdout, "  %-12s %s\n", src.Status, src.Domain)
			}
		}
		if s.Stage == overlay.StageSynthesis && !inVerdict {
			inVerdict = true
			fmt.Fprint(os.Stdout, "\nVerdict: ")
		}
		if len(s.VerdictText) > verdictAt {
			fmt.Fprint(os.Stdout, s.VerdictText[verdictAt:])
			verdictAt = len(s.VerdictText)
		}
		if s.StreamComplete {
			fmt.Fprintln(os.Stdout)
			return true, nil
		}
		return false, nil
	}

	for {
		select {
		case s := <-updates:
			if done, err := show(s); done {
				return err
			}
		case <-client.Done():
			// Drain anything the read loop produced before it exited.
			for {
				select {
				case s := <-updates:
					if done, err := show(s); done {
						return err
					}
				default:
					if done, err := show(client.State()); done {
						return err
					}
					return fmt.Errorf("connection closed before the stream finished")
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
