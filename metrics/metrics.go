package metrics

import (
	"time"

	rpcMetrics "github.com/filecoin-project/go-jsonrpc/metrics"
	"github.com/ipfs-force-community/metrics"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// Global Tags
var (
	AppIDKey, _ = tag.NewKey("app_id")
	ChainKey, _ = tag.NewKey("chain")
)

// Distribution
var defaultMillisecondsDistribution = view.Distribution(0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100, 130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 3000, 4000, 5000, 7500, 10000, 20000, 50000, 100000)

var (
	// registry / sessions
	AccountNum    = metrics.NewInt64("account/num", "Accounts in the registry", stats.UnitDimensionless)
	SessionNum    = metrics.NewInt64("session/num", "Active app sessions", stats.UnitDimensionless)
	GrantedNum    = metrics.NewInt64("session/granted_num", "Distinct granted account identities", stats.UnitDimensionless)
	AccountAdd    = stats.Int64("account/add", "Account added to registry", stats.UnitDimensionless)
	AccountRemove = stats.Int64("account/remove", "Account removed from registry", stats.UnitDimensionless)

	// negotiation
	ConnectCall    = stats.Float64("connect_call", "Connect resolution spent time", stats.UnitMilliseconds)
	PromptShown    = stats.Int64("prompt/shown", "Authorization prompts shown", stats.UnitDimensionless)
	PromptApproved = stats.Int64("prompt/approved", "Prompts answered with a non-empty approval", stats.UnitDimensionless)
	PromptDeclined = stats.Int64("prompt/declined", "Prompts declined or abandoned", stats.UnitDimensionless)

	ApiState = metrics.NewInt64("api/state", "api service state. 0: down, 1: up", "")
)

var (
	connectCallView = &view.View{
		Measure:     ConnectCall,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{AppIDKey},
	}
	promptShownView = &view.View{
		Measure:     PromptShown,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{AppIDKey},
	}
	promptApprovedView = &view.View{
		Measure:     PromptApproved,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{AppIDKey},
	}
	promptDeclinedView = &view.View{
		Measure:     PromptDeclined,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{AppIDKey},
	}
	accountAddView = &view.View{
		Measure:     AccountAdd,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{ChainKey},
	}
	accountRemoveView = &view.View{
		Measure:     AccountRemove,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{ChainKey},
	}
)

var views = append([]*view.View{
	connectCallView,
	promptShownView,
	promptApprovedView,
	promptDeclinedView,
	accountAddView,
	accountRemoveView,
}, rpcMetrics.DefaultViews...)

// SinceInMilliseconds returns the duration of time since the provide time as a float64.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Nanoseconds()) / 1e6
}
