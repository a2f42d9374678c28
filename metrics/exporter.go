package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/ipfs-force-community/metrics"
	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats/view"

	"github.com/keyhaven-io/wallet-agent/types"
)

var log = logging.Logger("metrics")

// agentStats is the slice of the agent API the metrics loop reads.
type agentStats interface {
	ListAccounts(ctx context.Context) ([]*types.Account, error)
	ListSessionInfo(ctx context.Context) ([]*types.SessionDetail, error)
}

func SetupMetrics(ctx context.Context, metricsConfig *metrics.MetricsConfig, api agentStats) error {
	log.Infof("metrics config: enabled: %v, exporter type: %s, prometheus: %+v, graphite: %+v",
		metricsConfig.Enabled, metricsConfig.Exporter.Type, metricsConfig.Exporter.Prometheus,
		metricsConfig.Exporter.Graphite)

	if !metricsConfig.Enabled {
		return nil
	}

	if err := view.Register(views...); err != nil {
		return fmt.Errorf("cannot register the view: %w", err)
	}

	switch metricsConfig.Exporter.Type {
	case metrics.ETPrometheus:
		go func() {
			if err := metrics.RegisterPrometheusExporter(ctx, metricsConfig.Exporter.Prometheus); err != nil {
				log.Errorf("failed to register prometheus exporter err: %v", err)
			}
			log.Infof("prometheus exporter server graceful shutdown successful")
		}()

	case metrics.ETGraphite:
		if err := metrics.RegisterGraphiteExporter(ctx, metricsConfig.Exporter.Graphite); err != nil {
			log.Errorf("failed to register graphite exporter: %v", err)
		}
	default:
		log.Warnf("invalid exporter type: %s", metricsConfig.Exporter.Type)
	}

	go recordMetricsLoop(ctx, api)

	return nil
}

func recordMetricsLoop(ctx context.Context, api agentStats) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			recordAgentInfo(ctx, api)
		case <-ctx.Done():
			log.Infof("context done, stop record metrics")
			return
		}
	}
}

func recordAgentInfo(ctx context.Context, api agentStats) {
	accounts, err := api.ListAccounts(ctx)
	if err != nil {
		log.Warnf("failed to list accounts %v", err)
		return
	}
	AccountNum.Set(ctx, int64(len(accounts)))

	sessions, err := api.ListSessionInfo(ctx)
	if err != nil {
		log.Warnf("failed to list session info %v", err)
		return
	}

	granted := make(map[types.AccountID]struct{})
	for _, detail := range sessions {
		for _, id := range detail.Authorized {
			granted[id] = struct{}{}
		}
	}
	SessionNum.Set(ctx, int64(len(sessions)))
	GrantedNum.Set(ctx, int64(len(granted)))
}
