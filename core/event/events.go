package event

import (
	"fmt"
	"strings"
)

// EventType is a set of readiness flags reported for one wait handle.
type EventType int

const (
	EVENT_TYPE_ACCEPT EventType = 1 << iota
	EVENT_TYPE_READ
	EVENT_TYPE_CLOSE
)

var typeName = map[EventType]string{
	EVENT_TYPE_ACCEPT: "EVENT_TYPE_ACCEPT",
	EVENT_TYPE_READ:   "EVENT_TYPE_READ",
	EVENT_TYPE_CLOSE:  "EVENT_TYPE_CLOSE",
}

// Types lists every flag in dispatch order.
var Types = []EventType{EVENT_TYPE_ACCEPT, EVENT_TYPE_READ, EVENT_TYPE_CLOSE}

func (et EventType) Has(flag EventType) bool {
	return et&flag == flag
}

func (et EventType) String() string {
	if et == 0 {
		return "EVENT_TYPE_NONE"
	}
	var names []string
	rest := et
	for _, t := range Types {
		if et.Has(t) {
			names = append(names, typeName[t])
			rest &^= t
		}
	}
	if rest != 0 {
		names = append(names, fmt.Sprintf("UNKNOWN: %d", int(rest)))
	}
	return strings.Join(names, "|")
}
