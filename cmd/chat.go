package cmd

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/toolgate/internal/chat"
	"github.com/mihaisavezi/toolgate/internal/client"
	"github.com/mihaisavezi/toolgate/internal/emitter"
	"github.com/mihaisavezi/toolgate/internal/process"
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Chat through the gateway",
	Long: `Send a prompt through the gateway, starting it in the background if needed.
Without a prompt an interactive session is opened; each turn continues the
previous conversation.`,
	Args: cobra.ArbitraryArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringP("model", "m", "", `model or "provider,model"; empty uses the router`)
	chatCmd.Flags().StringSliceP("tool", "t", nil, "server tools to offer (default: the provider's default tools)")
	chatCmd.Flags().String("effort", "", "reasoning effort (low, medium, high)")
	chatCmd.Flags().String("continue", "", "conversation id to continue")
	chatCmd.Flags().Bool("no-tools", false, "disable tool execution")
	chatCmd.Flags().String("user", "", "user id sent to the gateway")
}

func runChat(cmd *cobra.Command, args []string) error {
	if err := ensureConfigExists(); err != nil {
		return err
	}
	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	model, _ := cmd.Flags().GetString("model")
	toolNames, _ := cmd.Flags().GetStringSlice("tool")
	effort, _ := cmd.Flags().GetString("effort")
	previous, _ := cmd.Flags().GetString("continue")
	noTools, _ := cmd.Flags().GetBool("no-tools")
	user, _ := cmd.Flags().GetString("user")

	gw := client.New(gatewayURL(cfg), cfg.APIKey, user, &http.Client{})
	ready := func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return gw.Healthy(ctx)
	}

	procMgr := process.NewManager(baseDir)
	startedByUs, err := procMgr.StartServiceIfNeeded(ready)
	if err != nil {
		return err
	}

	procMgr.IncrementRef()
	defer func() {
		// Only stop the gateway if this session started it and no other
		// session still uses it.
		if procMgr.DecrementRef() == 0 && startedByUs {
			color.Yellow("No more active sessions, stopping auto-started gateway...")
			if err := procMgr.Stop(); err != nil {
				color.Red("Failed to stop gateway: %v", err)
			}
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	turn := func(prompt string) error {
		res, err := gw.Stream(ctx, client.Request{
			Model:              model,
			Messages:           []chat.Message{{Role: chat.RoleUser, Content: prompt}},
			Tools:              toolNames,
			ReasoningEffort:    effort,
			PreviousResponseID: previous,
			DisableTools:       noTools,
		}, client.Handlers{
			OnContent:    func(text string) { fmt.Print(text) },
			OnToolCalls:  printToolCalls,
			OnToolOutput: printToolOutput,
		})
		fmt.Println()
		if err != nil {
			return err
		}

		if meta := res.Conversation; meta != nil {
			previous = meta.ConversationID
			color.New(color.Faint).Printf("[%s, %d round(s)]\n", meta.ConversationID, meta.Rounds)
		}
		return nil
	}

	if len(args) > 0 {
		return turn(strings.Join(args, " "))
	}

	color.Cyan("Chatting via %s (Ctrl-D to exit)", gatewayURL(cfg))
	scanner := bufio.NewScanner(os.Stdin)
	for {
		color.New(color.FgGreen, color.Bold).Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}

		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if err := turn(prompt); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			color.Red("Error: %v", err)
		}
	}
}

func printToolCalls(calls []chat.ToolCall) {
	for _, call := range calls {
		color.Yellow("\n-> %s(%s)", call.Function.Name, call.Function.Arguments)
	}
}

func printToolOutput(out emitter.ToolOutput) {
	color.Cyan("<- %s: %s", out.Name, truncate(out.Output, 200))
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
