package cmds

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/casualhermit27/branched-sub001/pkg/conversation"
	"github.com/casualhermit27/branched-sub001/pkg/engine"
	"github.com/casualhermit27/branched-sub001/pkg/events"
	"github.com/casualhermit27/branched-sub001/pkg/layout"
	"github.com/casualhermit27/branched-sub001/pkg/session"
	"github.com/casualhermit27/branched-sub001/pkg/viewport"
)

var DemoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a scripted branching session against the echo engine",
	Long: `Runs a small scripted session: one question on the main thread, a
fork into two sibling branches, and a follow-up inside the fork. The
generation stream is printed as it arrives, followed by each branch's
display context, the computed layout and a fit transform.`,
	RunE: runDemo,
}

func init() {
	DemoCmd.Flags().String("save", "", "Write the resulting session document to this file")
	DemoCmd.Flags().Duration("delay", 20*time.Millisecond, "Echo engine delay per streamed character")
	DemoCmd.Flags().Bool("verbose", false, "Verbose event router logging")
}

func runDemo(cmd *cobra.Command, args []string) error {
	savePath, _ := cmd.Flags().GetString("save")
	delay, _ := cmd.Flags().GetDuration("delay")
	verbose, _ := cmd.Flags().GetBool("verbose")

	routerOptions := []events.EventRouterOption{}
	if verbose {
		routerOptions = append(routerOptions, events.WithVerbose(true))
	}

	router, err := events.NewEventRouter(routerOptions...)
	if err != nil {
		return err
	}
	defer func() { _ = router.Close() }()

	s := newSession()
	defer func() { _ = s.Close() }()

	s.Publisher().SubscribePublisher(s.Topic(), router.Publisher)
	router.AddHandler("demo-printer", s.Topic(), printGenerationEvents(cmd.OutOrStdout()))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	eg := errgroup.Group{}
	eg.Go(func() error {
		defer cancel()
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()
		return runScript(ctx, cmd.OutOrStdout(), s, delay, savePath)
	})

	return eg.Wait()
}

func runScript(ctx context.Context, w io.Writer, s *session.Session, delay time.Duration, savePath string) error {
	eng := engine.NewEchoEngine(engine.WithTimePerCharacter(delay))

	// One question and one streamed answer on the main thread.
	m1, err := s.SendUserMessage(conversation.MainBranchID, "how do branching conversations work")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "[user] %s\n", m1.Text)

	handle, err := s.StartGeneration(ctx, conversation.MainBranchID, eng)
	if err != nil {
		return err
	}
	if _, err := handle.Wait(); err != nil {
		return err
	}

	// Fork at the question into two sibling branches, one per model.
	forks, err := s.CreateBranch(ctx, conversation.MainBranchID, m1.ID,
		session.WithModels("echo-a", "echo-b"))
	if err != nil {
		return err
	}

	followUp, err := s.SendUserMessage(forks[0].ID, "and what does a fork inherit")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "[user] %s\n", followUp.Text)

	handle, err = s.StartGeneration(ctx, forks[0].ID, eng)
	if err != nil {
		return err
	}
	if _, err := handle.Wait(); err != nil {
		return err
	}

	// Keep the unused sibling minimized so the overview stays tight.
	s.SetMinimized(forks[1].ID, true)

	printContexts(w, s)
	if err := printLayout(w, s); err != nil {
		return err
	}

	if savePath != "" {
		if err := s.SaveToFile(savePath); err != nil {
			return err
		}
		fmt.Fprintf(w, "\nsession written to %s\n", savePath)
	}

	return nil
}

// printGenerationEvents renders the event stream the way a chat client
// would: the model name once, then each delta as it arrives.
func printGenerationEvents(w io.Writer) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		e, err := events.NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		switch typed := e.(type) {
		case *events.EventGenerationStart:
			fmt.Fprintf(w, "[%s] ", typed.Metadata().Model)
		case *events.EventPartialText:
			fmt.Fprint(w, typed.Delta)
		case *events.EventFinal:
			fmt.Fprintln(w)
		case *events.EventInterrupt:
			fmt.Fprintln(w, " [interrupted]")
		case *events.EventError:
			fmt.Fprintf(w, " [error: %s]\n", typed.ErrorString)
		}

		return nil
	}
}

func printContexts(w io.Writer, s *session.Session) {
	fmt.Fprintln(w, "\n=== Display Contexts ===")
	for _, bc := range s.Branches().List() {
		fmt.Fprintf(w, "%s:\n", bc.ID)
		for _, msg := range s.Manager().GetContextForDisplay(bc.ID) {
			role := "assistant"
			if msg.IsUser {
				role = "user"
			}
			fmt.Fprintf(w, "  [%s] %s\n", role, msg.DisplayText())
		}
	}
}

func printLayout(w io.Writer, s *session.Session) error {
	positioned, err := s.Layout()
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "\n=== Layout ===")
	for _, node := range positioned {
		fmt.Fprintf(w, "%-14s x=%8.1f y=%8.1f w=%6.1f h=%6.1f\n",
			node.ID, node.Position.X, node.Position.Y, node.Size.Width, node.Size.Height)
	}

	view := layout.Size{Width: 1280, Height: 800}
	transform, _, err := viewport.NewNavigator().FitNodes(view, positioned, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nfit into %.0fx%.0f: zoom=%.3f pan=(%.1f, %.1f)\n",
		view.Width, view.Height, transform.Zoom, transform.X, transform.Y)

	return nil
}
