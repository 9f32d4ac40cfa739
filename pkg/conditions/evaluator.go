package conditions

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dukex/inbox/pkg/models"
)

var channelNameFields = []string{"channel_name", "channel.name", "channel.display_name", "action.data.board.name", "chat.name"}

var messageTypeFields = []string{"message_type", "type", "post.type", "action.type"}

// Evaluator decides whether an activity satisfies a condition tree.
// Evaluation is pure; the logger only receives configuration warnings.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator creates an evaluator reporting warnings to logger.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Evaluator{logger: logger.With("module", "conditions")}
}

// With returns an evaluator whose warnings carry the given attributes.
func (e *Evaluator) With(args ...any) *Evaluator {
	return &Evaluator{logger: e.logger.With(args...)}
}

// Matches reports whether activity satisfies node.
func (e *Evaluator) Matches(activity *models.Activity, node Node) bool {
	if activity == nil || node == nil {
		return false
	}

	ev := evaluation{logger: e.logger, activity: activity}

	return ev.eval(node, 0)
}

// Match evaluates node against activity using the default logger.
func Match(activity *models.Activity, node Node) bool {
	return NewEvaluator(slog.Default()).Matches(activity, node)
}

type evaluation struct {
	logger    *slog.Logger
	activity  *models.Activity
	text      string
	textReady bool
}

func (ev *evaluation) eval(node Node, depth int) bool {
	if depth > MaxDepth {
		ev.warn("Condition tree too deep", "max_depth", MaxDepth)

		return false
	}

	switch n := node.(type) {
	case And:
		for _, child := range n.Children {
			if !ev.eval(child, depth+1) {
				return false
			}
		}

		return true
	case *And:
		if n == nil {
			return false
		}

		return ev.eval(*n, depth)
	case Or:
		for _, child := range n.Children {
			if ev.eval(child, depth+1) {
				return true
			}
		}

		return false
	case *Or:
		if n == nil {
			return false
		}

		return ev.eval(*n, depth)
	case Not:
		if n.Child == nil {
			ev.warn("Condition \"not\" without child")

			return false
		}

		if problems := Problems(n.Child); len(problems) > 0 {
			ev.warn("Condition \"not\" over a misconfigured subtree", "problems", problems)

			return false
		}

		return !ev.eval(n.Child, depth+1)
	case *Not:
		if n == nil {
			return false
		}

		return ev.eval(*n, depth)
	case Leaf:
		return ev.leaf(n)
	case *Leaf:
		if n == nil {
			return false
		}

		return ev.leaf(*n)
	case Invalid:
		ev.warn("Invalid condition", "reason", n.Reason)

		return false
	case *Invalid:
		if n == nil {
			return false
		}

		return ev.eval(*n, depth)
	default:
		ev.warn("Unsupported condition node", "type", fmt.Sprintf("%T", node))

		return false
	}
}

func (ev *evaluation) leaf(leaf Leaf) bool {
	switch leaf.Kind {
	case KindUserID:
		return ev.equalsAny(leaf, ev.activity.UserID, false)
	case KindChannelID:
		return ev.equalsAny(leaf, ev.activity.ChannelID, false)
	case KindChannelName:
		name, _ := ev.activity.Data.FirstString(channelNameFields...)

		return ev.equalsAny(leaf, normalizeChannelName(name), true)
	case KindMessageType:
		messageType, _ := ev.activity.Data.FirstString(messageTypeFields...)

		return ev.equalsAny(leaf, messageType, true)
	case KindContainsText:
		return ev.textPredicate(leaf, func(text, needle string) bool {
			return strings.Contains(text, needle)
		})
	case KindKeyword:
		return ev.textPredicate(leaf, containsWord)
	case KindUserMention:
		return ev.textPredicate(leaf, func(text, needle string) bool {
			return containsMention(text, strings.TrimPrefix(needle, "@"))
		})
	case KindTimeRange:
		window, err := parseTimeWindow(leaf.Value)
		if err != nil {
			ev.warn("Invalid time_range condition", "error", err)

			return false
		}

		return window.contains(ev.activity.Timestamp)
	default:
		ev.warn("Unknown condition predicate", "predicate", string(leaf.Kind))

		return false
	}
}

// equalsAny compares actual with the leaf's string value or list of values.
func (ev *evaluation) equalsAny(leaf Leaf, actual string, foldCase bool) bool {
	if actual == "" {
		return false
	}

	expected, ok := stringValues(leaf.Value)
	if !ok {
		ev.warn("Invalid condition value", "predicate", string(leaf.Kind))

		return false
	}

	for _, candidate := range expected {
		if leaf.Kind == KindChannelName {
			candidate = normalizeChannelName(candidate)
		}

		if foldCase && strings.EqualFold(candidate, actual) {
			return true
		}

		if candidate == actual {
			return true
		}
	}

	return false
}

func (ev *evaluation) textPredicate(leaf Leaf, match func(text, needle string) bool) bool {
	needles, ok := stringValues(leaf.Value)
	if !ok {
		ev.warn("Invalid condition value", "predicate", string(leaf.Kind))

		return false
	}

	text := ev.messageText()
	if text == "" {
		return false
	}

	lowered := strings.ToLower(text)

	for _, needle := range needles {
		needle = strings.ToLower(strings.TrimSpace(needle))
		if needle == "" || needle == "@" {
			continue
		}

		if match(lowered, needle) {
			return true
		}
	}

	return false
}

func (ev *evaluation) messageText() string {
	if !ev.textReady {
		ev.text = ExtractText(ev.activity)
		ev.textReady = true
	}

	return ev.text
}

func (ev *evaluation) warn(msg string, args ...any) {
	args = append(args,
		"activity_id", ev.activity.ID,
		"platform", string(ev.activity.Platform),
		"event_type", ev.activity.EventType,
	)
	ev.logger.Warn(msg, args...)
}

// stringValues accepts a string or a list of strings (and scalars).
func stringValues(value any) ([]string, bool) {
	switch v := value.(type) {
	case string:
		return []string{v}, true
	case []string:
		return v, len(v) > 0
	case []any:
		values := make([]string, 0, len(v))

		for _, item := range v {
			s, ok := models.ScalarString(item)
			if !ok {
				return nil, false
			}

			values = append(values, s)
		}

		return values, len(values) > 0
	default:
		s, ok := models.ScalarString(value)
		if !ok {
			return nil, false
		}

		return []string{s}, true
	}
}

func normalizeChannelName(name string) string {
	return strings.ToLower(strings.TrimLeft(strings.TrimSpace(name), "#~"))
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// containsWord reports whether needle occurs in text on word boundaries.
func containsWord(text, needle string) bool {
	for offset := 0; offset <= len(text)-len(needle); {
		index := strings.Index(text[offset:], needle)
		if index < 0 {
			return false
		}

		start := offset + index
		end := start + len(needle)

		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}

		offset = start + 1
	}

	return false
}

// containsMention reports whether text mentions @name. Usernames may contain
// dots, dashes and underscores; a trailing dot is treated as punctuation.
func containsMention(text, name string) bool {
	if name == "" {
		return false
	}

	needle := "@" + name

	for offset := 0; offset <= len(text)-len(needle); {
		index := strings.Index(text[offset:], needle)
		if index < 0 {
			return false
		}

		start := offset + index
		end := start + len(needle)

		if boundaryBefore(text, start) && mentionEnds(text, end) {
			return true
		}

		offset = start + 1
	}

	return false
}

func boundaryBefore(text string, index int) bool {
	if index == 0 {
		return true
	}

	r := lastRune(text[:index])

	return !isWordRune(r)
}

func boundaryAfter(text string, index int) bool {
	if index >= len(text) {
		return true
	}

	r := firstRune(text[index:])

	return !isWordRune(r)
}

func mentionEnds(text string, index int) bool {
	if index >= len(text) {
		return true
	}

	r := firstRune(text[index:])

	switch {
	case isWordRune(r) || r == '-':
		return false
	case r == '.':
		return index+1 >= len(text) || !isWordRune(firstRune(text[index+1:]))
	default:
		return true
	}
}

func firstRune(s string) rune {
	if s == "" {
		return 0
	}

	r, _ := utf8.DecodeRuneInString(s)

	return r
}

func lastRune(s string) rune {
	if s == "" {
		return 0
	}

	r, _ := utf8.DecodeLastRuneInString(s)

	return r
}
