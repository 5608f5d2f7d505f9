package service

import (
	"strings"
	"time"

	"github.com/motorcart-next/internal/constants"
)

// Clock 可注入的时间源
type Clock func() time.Time

// SystemClock 返回 UTC 当前时间
func SystemClock() time.Time {
	return time.Now().UTC()
}

func (c Clock) now() time.Time {
	if c == nil {
		return SystemClock()
	}
	return c()
}

func actorOrSystem(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return constants.ActorSystem
	}
	return actor
}
