package sim

import (
	"fmt"
	"log"
	"strings"
)

// A LogHook is a hook that writes what it observes as log lines.
type LogHook interface {
	Hook
}

// LogHookBase holds the logger and the clock of a LogHook. Records are comma
// separated and start with the current time.
type LogHookBase struct {
	*log.Logger

	TimeTeller TimeTeller
}

// NewLogHookBase creates a LogHookBase. A nil logger falls back to the
// standard logger and a nil time teller stamps every record with zero.
func NewLogHookBase(logger *log.Logger, timeTeller TimeTeller) LogHookBase {
	if logger == nil {
		logger = log.Default()
	}

	return LogHookBase{Logger: logger, TimeTeller: timeTeller}
}

// Now returns the time records are stamped with.
func (h LogHookBase) Now() VTimeInSec {
	if h.TimeTeller == nil {
		return 0
	}

	return h.TimeTeller.CurrentTime()
}

// Record writes one record made of the current time and the fields.
func (h LogHookBase) Record(fields ...any) {
	var b strings.Builder

	fmt.Fprintf(&b, "%.6f", h.Now())

	for _, f := range fields {
		fmt.Fprintf(&b, ",%v", f)
	}

	h.Println(b.String())
}
