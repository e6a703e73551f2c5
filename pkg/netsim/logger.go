package netsim

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// JSONLinesLogger writes one sorted-key JSON object per line: the
// wire-format artifact the determinism contract is checked against. It
// is deliberately independent of the zap ops logger -- zap's encoder
// does not guarantee the exact field set, 6-decimal time rounding, or
// key order this format requires.
type JSONLinesLogger struct {
	w io.Writer
}

// NewJSONLinesLogger wraps w (typically an *os.File opened for the run's
// event log).
func NewJSONLinesLogger(w io.Writer) *JSONLinesLogger {
	return &JSONLinesLogger{w: w}
}

// LogEvent appends one event record. height and msgID are omitted from
// the record when nil; extra fields are merged in after the fixed ones.
func (l *JSONLinesLogger) LogEvent(simTime float64, node, event string, height *uint64, msgID *uint64, extra map[string]interface{}) error {
	record := map[string]interface{}{
		"time":  round6(simTime),
		"node":  node,
		"event": event,
	}
	if height != nil {
		record["height"] = *height
	}
	if msgID != nil {
		record["msg_id"] = *msgID
	}
	for k, v := range extra {
		record[k] = v
	}
	line, err := json.Marshal(sortedMap(record))
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	_, err = fmt.Fprintf(l.w, "%s\n", line)
	return err
}

// round6 matches the original six-decimal simulated-time rounding so the
// event log is byte-identical across replays regardless of floating
// point accumulation order.
func round6(t float64) float64 {
	const scale = 1e6
	return math.Round(t*scale) / scale
}

// sortedMap returns m unchanged: encoding/json already sorts map keys on
// Marshal, so no reordering is needed here.
func sortedMap(m map[string]interface{}) map[string]interface{} {
	return m
}
