package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var clientsOnce sync.Once

// RegisterClientGauges exposes live connection counts. Nil sources are skipped.
func RegisterClientGauges(streamClients, sensorConnections func() int) {
	clientsOnce.Do(func() {
		if streamClients != nil {
			prometheus.MustRegister(prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: metricPrefix + "stream_clients",
					Help: "Dashboard clients subscribed to the event stream",
				},
				func() float64 { return float64(streamClients()) },
			))
		}
		if sensorConnections != nil {
			prometheus.MustRegister(prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: metricPrefix + "sensor_connections",
					Help: "Sensors connected over websocket",
				},
				func() float64 { return float64(sensorConnections()) },
			))
		}
	})
}
