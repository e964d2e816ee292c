package routing

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // window timezones must resolve in minimal containers

	"hookrouter/internal/logging"
	"hookrouter/internal/types"
)

// Field operators accepted inside a fields condition.
const (
	opEq    = "$eq"
	opNe    = "$ne"
	opGt    = "$gt"
	opGte   = "$gte"
	opLt    = "$lt"
	opLte   = "$lte"
	opIn    = "$in"
	opRegex = "$regex"
)

// maxCachedPatterns bounds the compiled $regex cache.
const maxCachedPatterns = 512

// Evaluator decides whether a rule's conditions match an event.
// It is safe for concurrent use.
type Evaluator struct {
	clock  types.Clock
	logger types.Logger

	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

// NewEvaluator creates an Evaluator. The clock drives time window checks.
func NewEvaluator(clock types.Clock, logger types.Logger) *Evaluator {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Evaluator{
		clock:    clock,
		logger:   logger,
		patterns: make(map[string]*regexp.Regexp),
	}
}

// Evaluate reports whether every populated condition holds for ev.
// Internal errors, including panics, count as a non-match.
func (e *Evaluator) Evaluate(conds *types.RoutingConditions, ev *types.Event) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("condition evaluation panicked, treating as no match",
				"event_id", eventID(ev),
				"panic", fmt.Sprint(r),
			)
			matched = false
		}
	}()

	if conds == nil {
		return true
	}
	if ev == nil {
		return false
	}

	// 1. Source membership.
	if len(conds.Source) > 0 && !conds.Source.Matches(ev.Source) {
		return false
	}

	// 2. Declared priority must equal data.priority exactly.
	if conds.Priority != "" {
		p, ok := ev.Data["priority"].(string)
		if !ok || p != string(conds.Priority) {
			return false
		}
	}

	// 3. Keywords against the serialized payload.
	if len(conds.Keywords) > 0 && !e.matchKeywords(conds.Keywords, ev.Data) {
		return false
	}

	// 4. Field conditions.
	for path, expected := range conds.Fields {
		actual, present := resolvePath(ev.Data, path)
		if !e.matchFieldValue(actual, present, expected) {
			return false
		}
	}

	// 5. Time window.
	if conds.TimeWindow != nil && !e.withinTimeWindow(conds.TimeWindow) {
		return false
	}

	// 6. Custom expressions are never evaluated.
	if conds.Custom != "" {
		e.logger.Warn("custom condition expressions are disabled; rule will not match",
			"event_id", ev.ID,
		)
		return false
	}

	return true
}

func eventID(ev *types.Event) string {
	if ev == nil {
		return ""
	}
	return ev.ID
}

func (e *Evaluator) matchKeywords(keywords []string, data map[string]any) bool {
	raw, err := marshalJSON(data, "")
	if err != nil {
		e.logger.Warn("keyword check could not serialize payload", "error", err.Error())
		return false
	}
	haystack := strings.ToLower(string(raw))
	for _, kw := range keywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// resolvePath walks a dotted path through nested objects and arrays.
// present is false when any segment is absent; a present JSON null yields
// (nil, true).
func resolvePath(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// operatorObject returns expected as an operator map when every key starts
// with "$".
func operatorObject(expected any) (map[string]any, bool) {
	m, ok := expected.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

// matchFieldValue compares a resolved value against a literal or an
// operator object. All operators in one object must hold.
func (e *Evaluator) matchFieldValue(actual any, present bool, expected any) bool {
	ops, isOps := operatorObject(expected)
	if !isOps {
		return present && strictEqual(actual, expected)
	}

	for op, operand := range ops {
		switch op {
		case opEq:
			if !present || !strictEqual(actual, operand) {
				return false
			}
			continue
		case opNe:
			if present && strictEqual(actual, operand) {
				return false
			}
			continue
		}

		// Every remaining operator needs a concrete value.
		if !present || actual == nil {
			return false
		}

		switch op {
		case opGt, opGte, opLt, opLte:
			c, ok := compare(actual, operand)
			if !ok {
				return false
			}
			switch {
			case op == opGt && c <= 0,
				op == opGte && c < 0,
				op == opLt && c >= 0,
				op == opLte && c > 0:
				return false
			}
		case opIn:
			list, ok := operand.([]any)
			if !ok {
				return false
			}
			found := false
			for _, item := range list {
				if strictEqual(actual, item) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case opRegex:
			s, ok := actual.(string)
			if !ok {
				return false
			}
			pattern, ok := operand.(string)
			if !ok {
				return false
			}
			re, err := e.compile(pattern)
			if err != nil {
				e.logger.Warn("invalid $regex pattern", "pattern", pattern, "error", err.Error())
				return false
			}
			if !re.MatchString(s) {
				return false
			}
		default:
			e.logger.Warn("unknown field operator", "operator", op)
			return false
		}
	}
	return true
}

func (e *Evaluator) compile(pattern string) (*regexp.Regexp, error) {
	e.mu.RLock()
	re, ok := e.patterns[pattern]
	e.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if len(e.patterns) >= maxCachedPatterns {
		e.patterns = make(map[string]*regexp.Regexp)
	}
	e.patterns[pattern] = re
	e.mu.Unlock()
	return re, nil
}

// toFloat normalizes the numeric kinds produced by JSON and YAML decoding.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// compare orders two numbers or two strings. Mixed kinds are incomparable.
func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, ok := a.(string)
	if !ok {
		return 0, false
	}
	sb, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

// strictEqual compares without type coercion, except that numeric kinds
// are compared by value.
func strictEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	if _, ok := toFloat(b); ok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// withinTimeWindow checks the current time against the window in its
// timezone. Unknown timezones fall back to UTC.
func (e *Evaluator) withinTimeWindow(tw *types.TimeWindow) bool {
	start, err := types.ParseClock(tw.Start)
	if err != nil {
		e.logger.Warn("invalid time window start", "start", tw.Start, "error", err.Error())
		return false
	}
	end, err := types.ParseClock(tw.End)
	if err != nil {
		e.logger.Warn("invalid time window end", "end", tw.End, "error", err.Error())
		return false
	}

	loc := time.UTC
	if tw.Timezone != "" {
		l, err := time.LoadLocation(tw.Timezone)
		if err != nil {
			e.logger.Warn("invalid timezone in time window, falling back to UTC",
				"timezone", tw.Timezone,
				"error", err.Error(),
			)
		} else {
			loc = l
		}
	}

	now := e.clock.Now().In(loc)

	if len(tw.Days) > 0 {
		today := int(now.Weekday())
		found := false
		for _, d := range tw.Days {
			if d == today {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	current := now.Hour()*60 + now.Minute()
	if end < start {
		// Crosses midnight (e.g. 22:00-06:00).
		return current >= start || current <= end
	}
	return current >= start && current <= end
}
