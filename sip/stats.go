package sip

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StatsReport is a point-in-time snapshot of the user agent counters.
type StatsReport struct {
	Time         time.Time        `json:"time"`
	Transport    TransportStats   `json:"transport"`
	Transactions TransactionStats `json:"transactions"`
}

// TransportStats counts the messages crossing the transports.
type TransportStats struct {
	RequestsReceived  uint64 `json:"requests_received"`
	RequestsSent      uint64 `json:"requests_sent"`
	ResponsesReceived uint64 `json:"responses_received"`
	ResponsesSent     uint64 `json:"responses_sent"`
}

// TransactionStats counts open and total transactions per kind.
type TransactionStats struct {
	InviteClient         uint64 `json:"invite_client"`
	NonInviteClient      uint64 `json:"non_invite_client"`
	InviteServer         uint64 `json:"invite_server"`
	NonInviteServer      uint64 `json:"non_invite_server"`
	InviteClientTotal    uint64 `json:"invite_client_total"`
	NonInviteClientTotal uint64 `json:"non_invite_client_total"`
	InviteServerTotal    uint64 `json:"invite_server_total"`
	NonInviteServerTotal uint64 `json:"non_invite_server_total"`
}

// StatsRecorder keeps transport and transaction counters.
// All methods are safe for concurrent use.
type StatsRecorder struct {
	reqsRecv, reqsSent, ressRecv, ressSent atomic.Uint64

	open, total [4]atomic.Uint64
}

func txTypeIdx(typ TransactionType) int {
	switch typ {
	case TransactionTypeClientInvite:
		return 0
	case TransactionTypeClientNonInvite:
		return 1
	case TransactionTypeServerInvite:
		return 2
	default:
		return 3
	}
}

// RecordRequestSent increments the sent requests counter.
func (sr *StatsRecorder) RecordRequestSent() { sr.reqsSent.Add(1) }

// RecordRequestReceived increments the received requests counter.
func (sr *StatsRecorder) RecordRequestReceived() { sr.reqsRecv.Add(1) }

// RecordResponseSent increments the sent responses counter.
func (sr *StatsRecorder) RecordResponseSent() { sr.ressSent.Add(1) }

// RecordResponseReceived increments the received responses counter.
func (sr *StatsRecorder) RecordResponseReceived() { sr.ressRecv.Add(1) }

// TrackTransaction registers a created transaction and decrements the
// open gauge when it terminates.
func (sr *StatsRecorder) TrackTransaction(tx Transaction) {
	idx := txTypeIdx(tx.Type())
	sr.open[idx].Add(1)
	sr.total[idx].Add(1)
	tx.OnStateChanged(func(_ context.Context, _, to TransactionState) {
		if to == TransactionStateTerminated {
			sr.open[idx].Add(^uint64(0))
		}
	})
}

// Report returns a snapshot of the counters.
func (sr *StatsRecorder) Report() StatsReport {
	return StatsReport{
		Time: time.Now(),
		Transport: TransportStats{
			RequestsReceived:  sr.reqsRecv.Load(),
			RequestsSent:      sr.reqsSent.Load(),
			ResponsesReceived: sr.ressRecv.Load(),
			ResponsesSent:     sr.ressSent.Load(),
		},
		Transactions: TransactionStats{
			InviteClient:         sr.open[0].Load(),
			NonInviteClient:      sr.open[1].Load(),
			InviteServer:         sr.open[2].Load(),
			NonInviteServer:      sr.open[3].Load(),
			InviteClientTotal:    sr.total[0].Load(),
			NonInviteClientTotal: sr.total[1].Load(),
			InviteServerTotal:    sr.total[2].Load(),
			NonInviteServerTotal: sr.total[3].Load(),
		},
	}
}

// StatsCollector adapts a [StatsRecorder] to [prometheus.Collector].
type StatsCollector struct {
	rec *StatsRecorder

	reqsSent, reqsRecv, ressSent, ressRecv *prometheus.Desc
	openTxs, totalTxs                      *prometheus.Desc
}

// NewStatsCollector creates a collector exposing the recorder counters
// as sipua_* metrics.
func NewStatsCollector(rec *StatsRecorder) *StatsCollector {
	return &StatsCollector{
		rec: rec,
		reqsSent: prometheus.NewDesc("sipua_requests_sent_total",
			"Number of SIP requests sent.", nil, nil),
		reqsRecv: prometheus.NewDesc("sipua_requests_received_total",
			"Number of SIP requests received.", nil, nil),
		ressSent: prometheus.NewDesc("sipua_responses_sent_total",
			"Number of SIP responses sent.", nil, nil),
		ressRecv: prometheus.NewDesc("sipua_responses_received_total",
			"Number of SIP responses received.", nil, nil),
		openTxs: prometheus.NewDesc("sipua_transactions_open",
			"Number of open SIP transactions.", []string{"type"}, nil),
		totalTxs: prometheus.NewDesc("sipua_transactions_total",
			"Total number of created SIP transactions.", []string{"type"}, nil),
	}
}

// Describe implements [prometheus.Collector].
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.reqsSent
	ch <- c.reqsRecv
	ch <- c.ressSent
	ch <- c.ressRecv
	ch <- c.openTxs
	ch <- c.totalTxs
}

// Collect implements [prometheus.Collector].
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	report := c.rec.Report()

	ch <- prometheus.MustNewConstMetric(c.reqsSent, prometheus.CounterValue, float64(report.Transport.RequestsSent))
	ch <- prometheus.MustNewConstMetric(c.reqsRecv, prometheus.CounterValue, float64(report.Transport.RequestsReceived))
	ch <- prometheus.MustNewConstMetric(c.ressSent, prometheus.CounterValue, float64(report.Transport.ResponsesSent))
	ch <- prometheus.MustNewConstMetric(c.ressRecv, prometheus.CounterValue, float64(report.Transport.ResponsesReceived))

	open := []struct {
		typ  TransactionType
		open uint64
		tot  uint64
	}{
		{TransactionTypeClientInvite, report.Transactions.InviteClient, report.Transactions.InviteClientTotal},
		{TransactionTypeClientNonInvite, report.Transactions.NonInviteClient, report.Transactions.NonInviteClientTotal},
		{TransactionTypeServerInvite, report.Transactions.InviteServer, report.Transactions.InviteServerTotal},
		{TransactionTypeServerNonInvite, report.Transactions.NonInviteServer, report.Transactions.NonInviteServerTotal},
	}
	for _, row := range open {
		ch <- prometheus.MustNewConstMetric(c.openTxs, prometheus.GaugeValue, float64(row.open), string(row.typ))
		ch <- prometheus.MustNewConstMetric(c.totalTxs, prometheus.CounterValue, float64(row.tot), string(row.typ))
	}
}
