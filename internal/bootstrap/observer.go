package bootstrap

import (
	"grid-preload/internal/events"
	"grid-preload/internal/metrics"
)

// observer は各フェーズがメトリクスとイベントを通知する先。どちらもnil可
type observer struct {
	nodeID  string
	metrics *metrics.Registry
	bus     *events.Bus
}

func (o observer) publish(ev events.Event) {
	if o.bus != nil {
		o.bus.Publish(ev)
	}
}
