// ABOUTME: Chat command running an interactive assistant session over stdin
// ABOUTME: Supports attaching files and the last analysis to a message

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-codescan/internal/chat"
	"github.com/hikmaai-io/hikmaai-codescan/internal/generative"
	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

const chatHelp = `Commands:
  /files <paths...>   attach files to the next messages (/files with no paths clears)
  /analyze            analyze the attached files with --options and attach the results
  /review             review the attached files one by one with the generative backend
  /quit               leave the chat`

func newChatCmd() *cobra.Command {
	var options []string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the code analysis assistant",
		Long: `Start an interactive chat with the code analysis assistant.

Each line is sent as one message. Attached files and the results of
/analyze are sent along as context.

--options names the analyses /analyze runs. Missing credentials for any
of them stop the chat at startup.

` + chatHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			opts, required, err := chatOptions(options)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			a, err := buildApp(ctx, cfg, required, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := chat.NewSession(a.sessionConfig())
			if err != nil {
				return err
			}
			r := &repl{
				session:  sess,
				analyze:  a.orch.AnalyzeBatch,
				review:   a.analyzer.AnalyzeBatch,
				opts:     opts,
				maxBytes: cfg.HTTP.MaxContentBytes,
			}
			return runChat(ctx, r, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringSliceVar(&options, "options", []string{"all"}, "analyses /analyze runs")

	return cmd
}

// chatOptions returns the analyses /analyze runs and the set buildApp must
// validate: those plus the generative backend the conversation itself needs.
func chatOptions(names []string) (opts, required types.AnalysisOptions, err error) {
	opts, err = types.ParseOptions(names)
	if err != nil {
		return opts, required, err
	}
	if opts.Empty() {
		opts = types.AllOptions()
	}
	required = opts
	required.Generative = true
	return opts, required, nil
}

// repl holds the state of one interactive chat.
type repl struct {
	session  *chat.Session
	analyze  func(ctx context.Context, files []types.FileInput, opts types.AnalysisOptions, convo *types.ConversationContext) types.BatchResult
	review   func(ctx context.Context, files []types.FileInput, base *generative.AnalysisContext) []generative.BatchItem
	opts     types.AnalysisOptions
	maxBytes int

	files   []string
	results []types.AggregatedResult
}

func runChat(ctx context.Context, r *repl, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "hikmaai-codescan chat. Type /quit to leave.")
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/help":
			fmt.Fprintln(out, chatHelp)
		case line == "/files" || strings.HasPrefix(line, "/files "):
			r.files = strings.Fields(strings.TrimPrefix(line, "/files"))
			r.results = nil
			fmt.Fprintf(out, "attached %d file(s)\n", len(r.files))
		case line == "/analyze":
			if err := r.runAnalysis(ctx, out); err != nil {
				fmt.Fprintf(out, "analysis failed: %v\n", err)
			}
		case line == "/review":
			if err := r.runReview(ctx, out); err != nil {
				fmt.Fprintf(out, "review failed: %v\n", err)
			}
		case strings.HasPrefix(line, "/"):
			fmt.Fprintf(out, "unknown command %s\n%s\n", line, chatHelp)
		default:
			reply := r.session.SendMessage(ctx, line, r.messageContext())
			fmt.Fprintln(out, reply.Text)
		}
	}
}

func (r *repl) attached() ([]types.FileInput, error) {
	if len(r.files) == 0 {
		return nil, fmt.Errorf("no files attached; use /files first")
	}
	return collectFiles(r.files, r.maxBytes)
}

// conversation is what the analyses see of the chat so far.
func (r *repl) conversation() *types.ConversationContext {
	return &types.ConversationContext{
		History: r.session.Conversation(),
		Files:   r.files,
		Results: r.results,
	}
}

func (r *repl) runAnalysis(ctx context.Context, out io.Writer) error {
	files, err := r.attached()
	if err != nil {
		return err
	}
	batch := r.analyze(ctx, files, r.opts, r.conversation())
	r.results = batch.Results
	for _, res := range batch.Results {
		printResult(out, res)
	}
	return nil
}

// runReview analyzes the attached files sequentially, each prompt carrying
// excerpts of the others.
func (r *repl) runReview(ctx context.Context, out io.Writer) error {
	files, err := r.attached()
	if err != nil {
		return err
	}
	base := generative.NewAnalysisContext(r.conversation())
	for _, item := range r.review(ctx, files, &base) {
		printReview(out, item)
	}
	return nil
}

func printReview(w io.Writer, item generative.BatchItem) {
	fmt.Fprintf(w, "File:        %s\n", item.Name)
	switch {
	case item.Err != nil:
		fmt.Fprintf(w, "  %-16s failed (%v)\n", "review", item.Err)
	case item.Result != nil:
		fmt.Fprintf(w, "  %-16s risk %s, %d vulnerabilities\n", "review", item.Result.OverallRiskLevel, len(item.Result.Vulnerabilities))
		if s := strings.TrimSpace(item.Result.Summary); s != "" {
			fmt.Fprintf(w, "Summary:\n%s\n", s)
		}
	}
	fmt.Fprintln(w)
}

func (r *repl) messageContext() *chat.MessageContext {
	if len(r.files) == 0 && len(r.results) == 0 {
		return nil
	}
	mctx := &chat.MessageContext{Files: r.files}
	if len(r.results) > 0 {
		mctx.AnalysisResults = r.results
	}
	return mctx
}
