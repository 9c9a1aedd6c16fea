package intent

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Kind is the routing decision for one message
type Kind int

const (
	PlainChat Kind = iota
	SlashCommand
	StartSession
	EndSession
	CancelSession
	LogExercise
	DataQuery
)

func (k Kind) String() string {
	switch k {
	case SlashCommand:
		return "slash_command"
	case StartSession:
		return "start_session"
	case EndSession:
		return "end_session"
	case CancelSession:
		return "cancel_session"
	case LogExercise:
		return "log_exercise"
	case DataQuery:
		return "data_query"
	default:
		return "plain_chat"
	}
}

// Intent is the classified form of an inbound message. Command and Args are
// only set for SlashCommand; Text always carries the message as received.
type Intent struct {
	Kind    Kind
	Command string
	Args    string
	Text    string
}

var (
	weightPattern  = regexp.MustCompile(`\d+(?:[.,]\d+)?\s*(?:kgs?|kilos?|lbs?|libras?)\b`)
	setsPattern    = regexp.MustCompile(`\b\d+\s*(?:x|×|series?\s+de)\s*\d+\b`)
	numbersPattern = regexp.MustCompile(`(?:^|\s)\d+(?:[.,]\d+)?(?:\s+\d+(?:[.,]\d+)?){2,}(?:\s|$)`)
)

// Classifier maps message text to an Intent using an ordered rule table.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	commands       map[string]bool
	start          []string
	end            []string
	cancel         []string
	shortEnd       []string
	shortCancel    []string
	exercises      []string
	dataTriggers   []string
	interrogatives []string
	rules          []rule
}

// message is the pre-normalized view of the input shared by all rules
type message struct {
	raw       string
	text      string // trimmed, lowercased, diacritics removed
	words     string // text reduced to single-space separated letters and digits
	hasActive bool
}

type rule struct {
	name  string
	match func(c *Classifier, m *message) (Intent, bool)
}

// NewClassifier builds a classifier for the given phrase sets. commands lists
// the slash commands that are recognized; any other "/word" is plain chat.
func NewClassifier(kw Keywords, commands ...string) *Classifier {
	c := &Classifier{
		commands:       make(map[string]bool, len(commands)),
		start:          normalizePhrases(kw.StartPhrases),
		end:            normalizePhrases(kw.EndPhrases),
		cancel:         normalizePhrases(kw.CancelPhrases),
		shortEnd:       normalizePhrases(kw.ShortEnd),
		shortCancel:    normalizePhrases(kw.ShortCancel),
		exercises:      normalizePhrases(kw.Exercises),
		dataTriggers:   normalizePhrases(kw.DataTriggers),
		interrogatives: normalizePhrases(kw.Interrogatives),
	}
	for _, cmd := range commands {
		c.commands[strings.ToLower(cmd)] = true
	}

	c.rules = []rule{
		{"slash_command", (*Classifier).matchCommand},
		{"start_phrase", phraseRule(func(c *Classifier) []string { return c.start }, StartSession)},
		{"end_phrase", phraseRule(func(c *Classifier) []string { return c.end }, EndSession)},
		{"cancel_phrase", phraseRule(func(c *Classifier) []string { return c.cancel }, CancelSession)},
		{"short_word", (*Classifier).matchShortWord},
		{"exercise_shape", (*Classifier).matchExercise},
		{"data_trigger", phraseRule(func(c *Classifier) []string { return c.dataTriggers }, DataQuery)},
	}
	return c
}

// Classify returns the intent of text. hasActiveSession only affects the
// short end/cancel words, which are ignored outside a workout.
func (c *Classifier) Classify(text string, hasActiveSession bool) Intent {
	m := newMessage(text, hasActiveSession)
	for _, r := range c.rules {
		if in, ok := r.match(c, m); ok {
			return in
		}
	}
	return Intent{Kind: PlainChat, Text: text}
}

// DependsOnSession reports whether the active-session flag can change the
// classification of text. Callers use it to skip the session lookup.
func (c *Classifier) DependsOnSession(text string) bool {
	return c.Classify(text, true).Kind != c.Classify(text, false).Kind
}

// HasExplicitMarker reports whether text carries a weight with unit or set
// notation, as opposed to merely containing a number.
func HasExplicitMarker(text string) bool {
	n := normalize(text)
	return weightPattern.MatchString(n) || setsPattern.MatchString(n)
}

func (c *Classifier) matchCommand(m *message) (Intent, bool) {
	if !strings.HasPrefix(m.text, "/") {
		return Intent{}, false
	}

	token := m.text
	if i := strings.IndexFunc(token, unicode.IsSpace); i >= 0 {
		token = token[:i]
	}
	// Telegram appends the bot username in groups: /help@gym_bot
	if at := strings.IndexByte(token, '@'); at > 0 {
		token = token[:at]
	}
	if !c.commands[token] {
		return Intent{}, false
	}

	trimmed := strings.TrimSpace(m.raw)
	args := ""
	if i := strings.IndexFunc(trimmed, unicode.IsSpace); i >= 0 {
		args = strings.TrimSpace(trimmed[i:])
	}
	return Intent{Kind: SlashCommand, Command: token, Args: args, Text: m.raw}, true
}

func (c *Classifier) matchShortWord(m *message) (Intent, bool) {
	if !m.hasActive {
		return Intent{}, false
	}
	if hasLeadingPhrase(m.words, c.shortEnd) {
		return Intent{Kind: EndSession, Text: m.raw}, true
	}
	if hasLeadingPhrase(m.words, c.shortCancel) {
		return Intent{Kind: CancelSession, Text: m.raw}, true
	}
	return Intent{}, false
}

func (c *Classifier) matchExercise(m *message) (Intent, bool) {
	if !strings.ContainsAny(m.text, "0123456789") || c.isQuestion(m) {
		return Intent{}, false
	}
	if weightPattern.MatchString(m.text) ||
		setsPattern.MatchString(m.text) ||
		numbersPattern.MatchString(m.text) ||
		containsAnyPhrase(m.words, c.exercises) {
		return Intent{Kind: LogExercise, Text: m.raw}, true
	}
	return Intent{}, false
}

func (c *Classifier) isQuestion(m *message) bool {
	return strings.ContainsAny(m.text, "?¿") || hasLeadingPhrase(m.words, c.interrogatives)
}

func phraseRule(phrases func(c *Classifier) []string, kind Kind) func(c *Classifier, m *message) (Intent, bool) {
	return func(c *Classifier, m *message) (Intent, bool) {
		if containsAnyPhrase(m.words, phrases(c)) {
			return Intent{Kind: kind, Text: m.raw}, true
		}
		return Intent{}, false
	}
}

func newMessage(text string, hasActive bool) *message {
	n := normalize(text)
	return &message{raw: text, text: n, words: wordsOf(n), hasActive: hasActive}
}

// normalize trims, lowercases and strips combining marks (é -> e, ñ -> n)
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

func wordsOf(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

func normalizePhrases(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if w := wordsOf(normalize(p)); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func containsAnyPhrase(words string, phrases []string) bool {
	padded := " " + words + " "
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

func hasLeadingPhrase(words string, phrases []string) bool {
	for _, p := range phrases {
		if words == p || strings.HasPrefix(words, p+" ") {
			return true
		}
	}
	return false
}
