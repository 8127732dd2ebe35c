package embedding

import (
	"sort"
	"strings"
)

var builtinPrototypes = map[string][]string{
	"gaming": {
		"epic clutch play that wins the round",
		"hilarious fail or glitch",
		"streamer screaming in excitement",
		"unexpected comeback against the odds",
		"perfectly timed headshot",
	},
	"podcast": {
		"controversial hot take that sparks debate",
		"guests laughing uncontrollably",
		"emotional personal story",
		"surprising fact or revelation",
		"quotable one-liner",
	},
	"vlog": {
		"dramatic reveal or surprise",
		"genuine emotional reaction",
		"breathtaking scenic moment",
		"funny mishap on camera",
	},
	"tutorial": {
		"key step that makes everything click",
		"impressive final result",
		"common mistake and how to fix it",
		"clever shortcut or tip",
	},
	"default": {
		"exciting high energy moment",
		"funny moment with laughter",
		"surprising twist",
		"emotional peak",
	},
}

// Prototypes returns the descriptions for contentType, built-ins first, then
// extra entries from configuration. Unknown content types use the default set.
func Prototypes(contentType string, extra map[string][]string) []string {
	key := strings.ToLower(strings.TrimSpace(contentType))
	base, ok := builtinPrototypes[key]
	if !ok {
		_, configured := extra[key]
		if !configured {
			key = "default"
		}
		base = builtinPrototypes[key]
	}
	out := append([]string(nil), base...)
	seen := make(map[string]struct{}, len(out))
	for _, d := range out {
		seen[d] = struct{}{}
	}
	for _, d := range extra[key] {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// ContentTypes lists every content type with a prototype set.
func ContentTypes(extra map[string][]string) []string {
	set := map[string]struct{}{}
	for k := range builtinPrototypes {
		set[k] = struct{}{}
	}
	for k := range extra {
		set[strings.ToLower(k)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
