package metrics

import (
	"github.com/kilianp07/ocppcore/core/logger"
	"github.com/kilianp07/ocppcore/core/observe"
)

// Observer feeds observe events into a sink.
type Observer struct {
	sink MetricsSink
	log  logger.Logger
}

// NewObserver returns an observe.Observer recording into sink.
func NewObserver(sink MetricsSink, log logger.Logger) *Observer {
	if sink == nil {
		sink = NopSink{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Observer{sink: sink, log: log}
}

func (o *Observer) Observe(e observe.Event) {
	if e.Kind == observe.KindMessage {
		err := o.sink.RecordMessage(MessageEvent{
			Local:     string(e.Local),
			Peer:      e.Peer,
			Direction: e.Direction.String(),
			Transport: e.Transport.String(),
			Type:      e.Message.Type.String(),
			Action:    e.Message.Action,
			ID:        string(e.Message.ID),
			Hops:      len(e.Message.Path),
			Time:      e.Time,
		})
		if err != nil {
			o.log.Errorf("record message: %v", err)
		}
		return
	}
	fr, ok := o.sink.(FaultRecorder)
	if !ok {
		return
	}
	ev := FaultEvent{
		Kind:    e.Kind.String(),
		Peer:    e.Peer,
		Action:  e.Message.Action,
		Handler: e.Handler,
		Time:    e.Time,
	}
	if e.Err != nil {
		ev.Error = e.Err.Error()
	}
	if err := fr.RecordFault(ev); err != nil {
		o.log.Errorf("record fault: %v", err)
	}
}
