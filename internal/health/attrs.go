package health

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/ashita-ai/council/internal/degradation"
)

func judgeAttr(judgeID string) attribute.KeyValue {
	return attribute.String("judge_id", judgeID)
}

func breakerAttr(name string) attribute.KeyValue {
	return attribute.String("service", name)
}

func componentAttr(component string) attribute.KeyValue {
	return attribute.String("component", component)
}

// degradationIndex finds level's position in component's ladder so the
// exported gauge carries a stable ordinal rather than a level name.
func degradationIndex(table *degradation.Table, component string, level degradation.Level) int {
	if table == nil {
		return -1
	}
	pol := table.Get(component)
	if pol == nil {
		return -1
	}
	for i, l := range pol.Levels {
		if l.Name == level.Name {
			return i
		}
	}
	return -1
}
