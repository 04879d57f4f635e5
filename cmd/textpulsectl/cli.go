package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kiranshivaraju/textpulse/pkg/client"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	server   string
	interval time.Duration
	timeout  time.Duration
}

func (o *rootOptions) client() *client.Client {
	return client.New(o.server, client.WithPollInterval(o.interval))
}

// newRootCmd builds the command tree. Output goes to out so tests can read it.
func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "textpulsectl",
		Short:         "Submit texts for analysis and follow the jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", envOr("TEXTPULSE_URL", "http://localhost:3000"), "textpulse server URL")
	root.PersistentFlags().DurationVar(&opts.interval, "interval", client.DefaultPollInterval, "poll interval")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "how long to wait for a job")

	root.AddCommand(
		buildSubmitCommand(opts),
		buildStatusCommand(opts),
		buildCancelCommand(opts),
		buildWaitCommand(opts),
	)
	return root
}

func buildSubmitCommand(opts *rootOptions) *cobra.Command {
	var (
		text, file, model string
		wait              bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a text for analysis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := readText(cmd.InOrStdin(), text, file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			c := opts.client()
			sub, err := c.Submit(ctx, body, model)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s queued, estimated wait %s\n", sub.ID, sub.EstimatedWait)

			if !wait {
				return nil
			}
			return waitAndPrint(ctx, cmd.OutOrStdout(), c, sub.ID, opts.timeout)
		},
	}
	cmd.Flags().StringVarP(&text, "text", "t", "", "text to analyze")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read text from file (- for stdin)")
	cmd.Flags().StringVarP(&model, "model", "m", "gpt-4", "analysis model")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the job to finish")
	return cmd
}

func buildStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Show a job's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.client().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), args[0], st)
			return nil
		},
	}
}

func buildCancelCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.client().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), args[0], st)
			return nil
		},
	}
}

func buildWaitCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "wait JOB_ID",
		Short: "Poll a job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return waitAndPrint(cmd.Context(), cmd.OutOrStdout(), opts.client(), args[0], opts.timeout)
		},
	}
}

func waitAndPrint(ctx context.Context, out io.Writer, c *client.Client, id string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	last := ""
	st, err := c.Wait(ctx, id, func(s client.Status) {
		if s.Status != last {
			fmt.Fprintf(out, "status: %s\n", s.Status)
			last = s.Status
		}
	})
	if err != nil {
		return err
	}
	printStatus(out, id, st)
	if st.Status == "error" {
		return fmt.Errorf("job %s failed: %s", id, st.Message)
	}
	return nil
}

func printStatus(out io.Writer, id string, st *client.Status) {
	fmt.Fprintf(out, "job %s: %s\n", id, st.Status)
	if st.Message != "" {
		fmt.Fprintf(out, "message: %s\n", st.Message)
	}
	if st.Analysis != "" {
		fmt.Fprintf(out, "\n%s\n", st.Analysis)
	}
}

func readText(stdin io.Reader, text, file string) (string, error) {
	switch {
	case text != "" && file != "":
		return "", errors.New("use either --text or --file, not both")
	case text != "":
		return text, nil
	case file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(b), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", file, err)
		}
		return string(b), nil
	default:
		return "", errors.New("no text given: pass --text or --file")
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
