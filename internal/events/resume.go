package events

import (
	"fmt"
	"regexp"
	"sync"
)

// ResumeToken identifies an agent conversation that can be continued.
type ResumeToken struct {
	Engine string
	Value  string
}

// Key is the lock/registry key for this token.
func (t ResumeToken) Key() string {
	return t.Engine + ":" + t.Value
}

// Format renders the backticked hint shown to users, e.g.
// `codex resume 0199a213-ab12`. ExtractResume parses it back.
func (t ResumeToken) Format() string {
	return fmt.Sprintf("`%s resume %s`", t.Engine, t.Value)
}

// FormatFor renders the hint, refusing tokens minted by another engine.
func (t ResumeToken) FormatFor(engine string) (string, error) {
	if t.Engine != engine {
		return "", fmt.Errorf("resume token is for engine %q", t.Engine)
	}
	return t.Format(), nil
}

var (
	resumeMu       sync.Mutex
	resumePatterns = map[string]*regexp.Regexp{}
)

func resumePattern(engine string) *regexp.Regexp {
	resumeMu.Lock()
	defer resumeMu.Unlock()
	re, ok := resumePatterns[engine]
	if !ok {
		re = regexp.MustCompile("`" + regexp.QuoteMeta(engine) + " resume ([^`\\s]+)`")
		resumePatterns[engine] = re
	}
	return re
}

// ExtractResume returns the token embedded in text by Format, or nil when
// none is present. When the text carries several hints the last one wins,
// so appended output overrides earlier mentions.
func ExtractResume(engine, text string) *ResumeToken {
	if text == "" {
		return nil
	}
	matches := resumePattern(engine).FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	value := matches[len(matches)-1][1]
	if value == "" {
		return nil
	}
	return &ResumeToken{Engine: engine, Value: value}
}
