package factory

import (
	"errors"
	"fmt"
	"io"

	"github.com/mikey/llm-phish-scanner/internal/adapters/amqp"
	"github.com/mikey/llm-phish-scanner/internal/adapters/filter"
	"github.com/mikey/llm-phish-scanner/internal/adapters/httpapi"
	"github.com/mikey/llm-phish-scanner/internal/config"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/mikey/llm-phish-scanner/internal/identity"
	"github.com/mikey/llm-phish-scanner/internal/intent"
	"github.com/mikey/llm-phish-scanner/internal/ports"
	"github.com/mikey/llm-phish-scanner/internal/reputation"
	"go.uber.org/zap"
)

// ErrNoFrontend is returned when the configuration enables no frontend
var ErrNoFrontend = errors.New("no frontend enabled")

// FilterFactory creates the frontends that deliver scans
type FilterFactory struct {
	cfg         *config.Config
	logger      *zap.Logger
	scanService *core.ScanService
}

// NewFilterFactory creates a new filter factory
func NewFilterFactory(cfg *config.Config, logger *zap.Logger, scanService *core.ScanService) *FilterFactory {
	return &FilterFactory{
		cfg:         cfg,
		logger:      logger,
		scanService: scanService,
	}
}

// CreatePostfixFilter creates the Postfix content filter
func (f *FilterFactory) CreatePostfixFilter() *filter.PostfixFilter {
	sc := f.cfg.GetServer()
	return filter.NewPostfixFilter(f.scanService, f.logger, filter.PostfixOptions{
		ListenAddress:  sc.ListenAddress,
		RejectPhishing: sc.RejectPhishing,
		ModifySubject:  sc.ModifySubject,
		SubjectPrefix:  sc.SubjectPrefix,
		Headers: filter.Headers{
			Score:   sc.ScoreHeader,
			Verdict: sc.VerdictHeader,
			Reason:  sc.ReasonHeader,
		},
		PostfixAddress: sc.PostfixAddress,
		PostfixPort:    sc.PostfixPort,
		PostfixEnabled: sc.PostfixEnabled,
	})
}

// CreateMilterFilter creates the milter filter
func (f *FilterFactory) CreateMilterFilter() *filter.MilterFilter {
	sc := f.cfg.GetServer()
	return filter.NewMilterFilter(f.scanService, f.logger, filter.MilterOptions{
		ListenAddress:  sc.ListenAddress,
		RejectPhishing: sc.RejectPhishing,
		ModifySubject:  sc.ModifySubject,
		SubjectPrefix:  sc.SubjectPrefix,
		Headers: filter.Headers{
			Score:   sc.ScoreHeader,
			Verdict: sc.VerdictHeader,
			Reason:  sc.ReasonHeader,
		},
	})
}

// CreateCliFilter creates the single-message CLI filter
func (f *FilterFactory) CreateCliFilter(format string, out io.Writer) (*filter.CliFilter, error) {
	return filter.NewCliFilter(f.scanService, f.logger, format, out)
}

// CreateFrontends creates every frontend the configuration enables
func (f *FilterFactory) CreateFrontends(
	identityChecker *identity.Checker,
	reputationChecker *reputation.Checker,
	analyzer *intent.Analyzer,
) ([]ports.Frontend, error) {
	var frontends []ports.Frontend

	switch filterType := f.cfg.GetServer().FilterType; filterType {
	case "postfix":
		frontends = append(frontends, f.CreatePostfixFilter())
	case "milter":
		frontends = append(frontends, f.CreateMilterFilter())
	case "", "none":
	default:
		return nil, fmt.Errorf("unsupported filter type: %s", filterType)
	}

	if hc := f.cfg.GetHTTP(); hc.Enabled {
		frontends = append(frontends, httpapi.NewServer(
			f.scanService,
			identityChecker,
			reputationChecker,
			analyzer,
			f.scanService.DefaultLayers(),
			hc,
			f.logger,
		))
	}

	if ac := f.cfg.GetAMQP(); ac.Enabled {
		frontends = append(frontends, amqp.NewService(ac, f.scanService, f.scanService.DefaultLayers(), f.logger))
	}

	if len(frontends) == 0 {
		return nil, ErrNoFrontend
	}
	return frontends, nil
}
