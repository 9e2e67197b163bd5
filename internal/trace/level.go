package trace

import (
	"fmt"
	"strings"
)

// Level controls which scopes are recorded.
type Level uint8

const (
	LevelOff    Level = iota
	LevelError        // nothing is streamed; a ring is only dumped on failure
	LevelPhase        // driver and interpreter runs
	LevelDetail       // plus collections and region resizes
	LevelDebug        // plus fiber transfers
)

var levelNames = [...]string{
	LevelOff:    "off",
	LevelError:  "error",
	LevelPhase:  "phase",
	LevelDetail: "detail",
	LevelDebug:  "debug",
}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// ParseLevel accepts the names above, case-insensitively; "" means off.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(s)
	if s == "" {
		return LevelOff, nil
	}
	for l, name := range levelNames {
		if name == s {
			return Level(l), nil
		}
	}
	return LevelOff, fmt.Errorf("invalid trace level: %q (expected: off|error|phase|detail|debug)", s)
}

// maxScope is the finest scope each level records.
var maxScope = [...]Scope{
	LevelOff:    0,
	LevelError:  0,
	LevelPhase:  ScopeVM,
	LevelDetail: ScopeGC,
	LevelDebug:  ScopeFiber,
}

// ShouldEmit reports whether events of scope pass level l.
func (l Level) ShouldEmit(scope Scope) bool {
	return int(l) < len(maxScope) && scope != 0 && scope <= maxScope[l]
}
