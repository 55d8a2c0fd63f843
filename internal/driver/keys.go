package driver

import (
	"strings"
	"unicode/utf8"

	"github.com/chromedp/chromedp/kb"
)

// keysByName indexes the named keys of kb.Keys ("Enter", "ArrowUp", "F5")
// by their DOM key value.
var keysByName = func() map[string]string {
	m := make(map[string]string, len(kb.Keys))
	for r, k := range kb.Keys {
		if utf8.RuneCountInString(k.Key) > 1 {
			m[k.Key] = string(r)
		}
	}
	return m
}()

var keyAliases = map[string]string{
	"space":  " ",
	"esc":    kb.Escape,
	"return": kb.Enter,
	"del":    kb.Delete,
}

// resolveKey maps a DOM key identifier to the input chromedp.KeyEvent
// expects. Single characters are passed through.
func resolveKey(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if utf8.RuneCountInString(name) == 1 {
		return name, true
	}
	if s, ok := keysByName[name]; ok {
		return s, true
	}
	if s, ok := keyAliases[strings.ToLower(name)]; ok {
		return s, true
	}
	return "", false
}
