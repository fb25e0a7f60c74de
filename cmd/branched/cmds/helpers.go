package cmds

import (
	"github.com/spf13/viper"

	"github.com/casualhermit27/branched-sub001/pkg/layout"
	"github.com/casualhermit27/branched-sub001/pkg/session"
)

// layoutOptions translates the layout override flags into engine options.
func layoutOptions() []layout.Option {
	var options []layout.Option
	if width := viper.GetFloat64("node-width"); width > 0 {
		options = append(options, layout.WithNodeWidth(width))
	}
	if rank := viper.GetFloat64("rank-spacing"); rank > 0 {
		cfg := layout.DefaultConfig()
		expanded, compact := cfg.Expanded, cfg.Compact
		expanded.Rank = rank
		compact.Rank = rank
		options = append(options, layout.WithSpacing(expanded, compact))
	}
	return options
}

func newSession() *session.Session {
	return session.NewSession(
		session.WithLayoutEngine(layout.NewEngine(layoutOptions()...)),
	)
}

// loadSession builds a session around the document at path.
func loadSession(path string) (*session.Session, error) {
	s := newSession()
	if err := s.LoadFromFile(path); err != nil {
		return nil, err
	}
	return s, nil
}
