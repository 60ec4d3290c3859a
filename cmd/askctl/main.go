// askctl submits questions to the pipeline's HTTP API and polls for answers.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"qa-pipeline/internal/domain"
	"qa-pipeline/internal/poller"
	"qa-pipeline/internal/retry"
	"qa-pipeline/internal/strategy"
	"qa-pipeline/internal/usecase"
)

// Exit codes: 1 for a definitive failure, 2 when the answer is still
// pending after the last poll.
const (
	exitFailure = 1
	exitPending = 2
)

var errStillPending = errors.New("answer still pending")

type options struct {
	url      string
	attempts int
	interval time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := exitCode(newRootCmd(os.Stdout).ExecuteContext(ctx), os.Stderr)
	stop()
	os.Exit(code)
}

func exitCode(err error, stderr io.Writer) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errStillPending):
		return exitPending
	default:
		color.New(color.FgRed).Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "askctl",
		Short:         "Submit questions and fetch answers from the QA pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.url, "url", envOr("QA_API_URL", "http://localhost:8080"), "base URL of the API")
	root.PersistentFlags().IntVar(&opts.attempts, "attempts", 10, "maximum polling attempts")
	root.PersistentFlags().DurationVar(&opts.interval, "interval", 2*time.Second, "delay between polling attempts")

	root.AddCommand(newAskCmd(opts, out), newWaitCmd(opts, out), newHistoryCmd(opts, out))
	return root
}

func newAskCmd(opts *options, out io.Writer) *cobra.Command {
	var (
		userID, topic, conversationID string
		wait                          bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Submit a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			req, err := c.Submit(cmd.Context(), usecase.SubmitInput{
				UserID:         userID,
				Question:       args[0],
				Topic:          topic,
				ConversationID: conversationID,
			})
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprint(out, "submitted ")
			fmt.Fprintln(out, req.RequestID)
			if !wait {
				return nil
			}
			return waitAndPrint(cmd.Context(), c, req.RequestID, out)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&topic, "topic", strategy.TopicAssignment,
		"question topic, one of: "+strings.Join(strategy.DefaultTopics(), ", "))
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id for follow-up questions")
	cmd.Flags().BoolVar(&wait, "wait", true, "poll until the answer is ready")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newWaitCmd(opts *options, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "wait <request_id>",
		Short: "Poll for the answer to a submitted question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			return waitAndPrint(cmd.Context(), c, args[0], out)
		},
	}
}

func newHistoryCmd(opts *options, out io.Writer) *cobra.Command {
	var passcode string
	cmd := &cobra.Command{
		Use:   "history <user_id|all>",
		Short: "List stored answers for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			records, err := c.History(cmd.Context(), args[0], passcode)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				color.New(color.FgYellow).Fprintln(out, "no answers")
				return nil
			}
			for _, r := range records {
				printRecord(out, r)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&passcode, "passcode", os.Getenv("QA_ADMIN_PASSCODE"), "admin passcode")
	return cmd
}

func (o *options) client() (*poller.Client, error) {
	policy := poller.DefaultPolicy()
	policy.MaxAttempts = o.attempts
	policy.BaseDelay = o.interval
	policy.Growth = retry.Linear
	return poller.New(o.url, poller.WithPolicy(policy))
}

func waitAndPrint(ctx context.Context, c *poller.Client, requestID string, out io.Writer) error {
	record, err := c.Wait(ctx, requestID)
	if errors.Is(err, poller.ErrTimeout) {
		color.New(color.FgYellow).Fprintf(out, "still pending: %s\n", requestID)
		return fmt.Errorf("%w: %s", errStillPending, requestID)
	}
	if err != nil {
		return err
	}
	printRecord(out, record)
	return nil
}

func printRecord(out io.Writer, r domain.AnswerRecord) {
	cyan := color.New(color.FgCyan)
	cyan.Fprintf(out, "[%s] %s (%s)\n", r.Topic, r.RequestID, r.UserID)
	fmt.Fprintf(out, "Q: %s\n", r.Question)
	fmt.Fprintf(out, "A: %s\n\n", r.Answer)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
