package cmds

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/casualhermit27/branched-sub001/pkg/conversation"
)

var LayoutCmd = &cobra.Command{
	Use:   "layout <file>",
	Short: "Compute node positions for a session document",
	Args:  cobra.ExactArgs(1),
	RunE:  runLayout,
}

func init() {
	LayoutCmd.Flags().String("output", "yaml", "Output format (yaml, json)")
}

type positionRow struct {
	ID        conversation.BranchID `json:"id" yaml:"id"`
	X         float64               `json:"x" yaml:"x"`
	Y         float64               `json:"y" yaml:"y"`
	Width     float64               `json:"width" yaml:"width"`
	Height    float64               `json:"height" yaml:"height"`
	Minimized bool                  `json:"minimized,omitempty" yaml:"minimized,omitempty"`
}

func runLayout(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("output")

	s, err := loadSession(args[0])
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	positioned, err := s.Layout()
	if err != nil {
		return err
	}

	rows := make([]positionRow, 0, len(positioned))
	for _, node := range positioned {
		rows = append(rows, positionRow{
			ID:        node.ID,
			X:         node.Position.X,
			Y:         node.Position.Y,
			Width:     node.Size.Width,
			Height:    node.Size.Height,
			Minimized: node.Minimized,
		})
	}

	var b []byte
	switch format {
	case "json":
		b, err = json.MarshalIndent(rows, "", "  ")
	case "yaml":
		b, err = yaml.Marshal(rows)
	default:
		return errors.Errorf("unknown output format %s", format)
	}
	if err != nil {
		return err
	}
	if format == "json" {
		b = append(b, '\n')
	}

	_, err = cmd.OutOrStdout().Write(b)
	return err
}
