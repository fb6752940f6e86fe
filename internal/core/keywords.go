package core

import "maps"

// DefaultKeywords is the built-in English keyword set used when no keyword
// file is configured.
func DefaultKeywords() Keywords {
	return Keywords{
		Decisions: []string{
			"decided", "decide", "decision", "chose", "choose", "going with",
			"opted for", "agreed", "settled on", "we will use", "we'll use",
			"the fix is", "the solution is", "root cause", "instead of",
		},
		Technical: []string{
			"api", "endpoint", "database", "schema", "migration", "sql",
			"queue", "cache", "index", "goroutine", "channel", "mutex",
			"http", "grpc", "json", "yaml", "config", "docker", "kubernetes",
			"deploy", "service", "function", "interface", "struct", "test",
			"latency", "memory", "performance", "go", "python", "typescript",
			"postgres", "redis", "kafka", "sqlite",
		},
		NextSteps: []string{
			"next", "next step", "todo", "follow up", "follow-up", "need to",
			"plan to", "remaining", "pending", "later", "afterwards",
		},
		Importance: map[string]float64{
			"decided":      1.0,
			"decision":     1.0,
			"important":    1.0,
			"critical":     1.5,
			"blocker":      1.5,
			"must":         0.5,
			"bug":          0.75,
			"error":        0.5,
			"fix":          0.75,
			"breaking":     1.0,
			"deadline":     1.0,
			"architecture": 1.0,
			"security":     1.0,
			"production":   1.0,
			"requirement":  0.75,
			"todo":         0.5,
		},
	}
}

// Merge fills empty sections of k from fallback.
func (k Keywords) Merge(fallback Keywords) Keywords {
	if len(k.Decisions) == 0 {
		k.Decisions = fallback.Decisions
	}
	if len(k.Technical) == 0 {
		k.Technical = fallback.Technical
	}
	if len(k.NextSteps) == 0 {
		k.NextSteps = fallback.NextSteps
	}
	if len(k.Importance) == 0 {
		k.Importance = maps.Clone(fallback.Importance)
	}
	return k
}
