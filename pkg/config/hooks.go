package config

import (
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
)

// durationOrSecondsHook decodes durations either from Go duration
// syntax ("90s", "2m") or, for compatibility with POLL_INTERVAL as the
// original agent read it, from a bare number of seconds.
func durationOrSecondsHook() mapstructure.DecodeHookFunc {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if secs, err := strconv.Atoi(v); err == nil {
				return time.Duration(secs) * time.Second, nil
			}
			return time.ParseDuration(v)
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		}
		return data, nil
	}
}
