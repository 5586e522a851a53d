package session

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "xinchao/session"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	turnCounter, _   = meter.Int64Counter("xinchao.turns", metric.WithDescription("Resolved turns by mode and result"))
	turnDuration, _  = meter.Float64Histogram("xinchao.turn.duration", metric.WithUnit("s"), metric.WithDescription("Time from submission to resolution"))
	rejectCounter, _ = meter.Int64Counter("xinchao.turns.rejected", metric.WithDescription("Submissions rejected while a turn was in flight"))
)
