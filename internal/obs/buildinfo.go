package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	// buildInfo: gauge со статич. значением 1 и метками версии/окружения.
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "HatchUp auth API build information.",
		},
		[]string{"version", "environment"},
	)
)

// InitBuildInfo registers build_info once and sets the current labels.
func InitBuildInfo(version, environment string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, environment).Set(1)
}
