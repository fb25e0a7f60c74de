package cmds

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/casualhermit27/branched-sub001/pkg/conversation"
	"github.com/casualhermit27/branched-sub001/pkg/conversation/serde"
	"github.com/casualhermit27/branched-sub001/pkg/graph"
	"github.com/casualhermit27/branched-sub001/pkg/session"
)

var InspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Validate a session document and print its branch tree",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	doc, err := serde.LoadFile(args[0])
	if err != nil {
		return err
	}

	s := newSession()
	defer func() { _ = s.Close() }()

	if err := s.Import(doc); err != nil {
		return err
	}

	g, err := s.Graph()
	if err != nil {
		return errors.Wrap(err, "invalid branch graph")
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: version %d", filepath.Base(args[0]), doc.Version)
	if doc.SessionID != "" {
		fmt.Fprintf(w, ", session %s", doc.SessionID)
	}
	fmt.Fprintf(w, "\n%d messages, %d branches\n\n", s.Messages().Size(), s.Branches().Len())

	printTree(cmd.Context(), w, s, g, g.Root().ID, 0)

	return nil
}

func printTree(ctx context.Context, w io.Writer, s *session.Session, g *graph.Graph, id conversation.BranchID, depth int) {
	bc, ok := s.Branches().Get(id)
	if !ok {
		return
	}

	descriptor := ""
	if models := bc.Metadata.SelectedModels; len(models) > 0 {
		descriptor = " [" + strings.Join(models, ", ") + "]"
	}

	status := ""
	if !s.Manager().ValidateContext(id) {
		status = " (unresolved references)"
	}

	tokens := 0
	if fc, err := s.Manager().GetFullContext(ctx, id); err == nil {
		tokens = fc.TokenCount
	}

	fmt.Fprintf(w, "%s%s%s: %d messages, %d tokens%s\n",
		strings.Repeat("  ", depth), id, descriptor,
		len(s.Manager().GetContextForDisplay(id)), tokens, status)

	for _, child := range g.Children(id) {
		printTree(ctx, w, s, g, child, depth+1)
	}
}
