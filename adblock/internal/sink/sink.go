// Package sink defines output backends for sweep reports.
package sink

import (
	"context"

	"github.com/hazyhaar/adsweep/adblock/dom"
)

// Sink receives sweep reports. Implementations deliver them to stdout, a
// webhook, an in-process callback or the report history.
type Sink interface {
	Send(ctx context.Context, rep dom.Report) error
	Close() error
}

// Kind tags every report on the wire.
const Kind = "sweep_report"

// envelope is the wire form of a report, shared by stdout lines and webhook
// bodies. Page id and trigger are lifted out so consumers can route without
// decoding the report.
type envelope struct {
	Kind    string      `json:"kind"`
	PageID  string      `json:"page_id"`
	Trigger dom.Trigger `json:"trigger"`
	Report  dom.Report  `json:"report"`
}

func wrap(rep dom.Report) envelope {
	return envelope{Kind: Kind, PageID: rep.PageID, Trigger: rep.Trigger, Report: rep}
}
