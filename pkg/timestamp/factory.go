package timestamp

import (
	"fmt"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	eterrors "github.com/therealutkarshpriyadarshi/eventtime/pkg/errors"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/schema"
)

// Strategy names accepted by New
const (
	StrategyDefault    = "default"
	StrategyHeader     = "header"
	StrategyPath       = "path"
	StrategyProcessing = "processing"
)

// Options select and configure an assigner strategy
type Options struct {
	Strategy string
	Header   string
	Path     string
	Decoder  schema.Decoder
	Clock    clockz.Clock
	Logger   *zap.Logger
}

// New builds the assigner named by opts.Strategy. An empty strategy selects
// the default chain.
func New(opts Options) (Assigner, error) {
	switch opts.Strategy {
	case "", StrategyDefault:
		return NewDefaultAssigner(opts.Clock, opts.Logger), nil
	case StrategyHeader:
		return NewHeaderAssigner(opts.Header, opts.Logger)
	case StrategyPath:
		return NewPathAssigner(opts.Path, opts.Decoder, opts.Logger)
	case StrategyProcessing:
		return NewProcessingTimeAssigner(opts.Clock), nil
	default:
		return nil, eterrors.NewConfigurationError(
			fmt.Errorf("unknown timestamp strategy %q", opts.Strategy), "timestamp assigner")
	}
}
