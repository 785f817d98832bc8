// Package metrics exposes Prometheus counters for the render pipeline.
// Compensation failures get their own counter: a refund that could not
// be issued means the ledger may disagree with job state, and operators
// alert on it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	jobsSubmitted        prometheus.Counter
	jobsCompleted        prometheus.Counter
	jobsFailedPermanent  prometheus.Counter
	jobsRefunded         prometheus.Counter
	compensationFailures prometheus.Counter
	webhooksDelivered    prometheus.Counter
	webhooksExhausted    prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderowl_jobs_submitted_total",
			Help: "Render jobs admitted (credits deducted and queued)",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderowl_jobs_completed_total",
			Help: "Render jobs completed successfully",
		}),
		jobsFailedPermanent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderowl_jobs_failed_permanent_total",
			Help: "Render jobs failed after exhausting retries",
		}),
		jobsRefunded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderowl_jobs_refunded_total",
			Help: "Refund transactions issued for cancelled or failed jobs",
		}),
		compensationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderowl_compensation_failures_total",
			Help: "Refunds that could not be issued; ledger needs manual reconciliation",
		}),
		webhooksDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderowl_webhooks_delivered_total",
			Help: "Webhook deliveries accepted by the receiving endpoint",
		}),
		webhooksExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderowl_webhooks_exhausted_total",
			Help: "Webhook deliveries dropped after exhausting attempts",
		}),
	}
	reg.MustRegister(
		c.jobsSubmitted, c.jobsCompleted, c.jobsFailedPermanent, c.jobsRefunded,
		c.compensationFailures, c.webhooksDelivered, c.webhooksExhausted,
	)
	return c
}

func (c *Collector) JobSubmitted()       { c.jobsSubmitted.Inc() }
func (c *Collector) JobCompleted()       { c.jobsCompleted.Inc() }
func (c *Collector) JobFailedPermanent() { c.jobsFailedPermanent.Inc() }
func (c *Collector) JobRefunded()        { c.jobsRefunded.Inc() }
func (c *Collector) CompensationFailed() { c.compensationFailures.Inc() }
func (c *Collector) WebhookDelivered()   { c.webhooksDelivered.Inc() }
func (c *Collector) WebhookExhausted()   { c.webhooksExhausted.Inc() }

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
