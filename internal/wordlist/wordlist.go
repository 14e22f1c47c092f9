// Package wordlist holds the draw-and-guess word sets, grouped by language
// and difficulty.
package wordlist

import (
	"encoding/json"
	"fmt"
	"os"
)

// Library maps language → difficulty → words.
type Library map[string]map[string][]string

// ErrNoSet reports a language/difficulty combination with no word list.
// There is deliberately no fallback: a game cannot start without its set.
type ErrNoSet struct {
	Language   string
	Difficulty string
}

func (e *ErrNoSet) Error() string {
	return fmt.Sprintf("word set not found for %s - %s", e.Language, e.Difficulty)
}

// LoadFile reads a library from a JSON file shaped like
// {"English": {"Easy": ["cat", ...], ...}, ...}.
func LoadFile(path string) (Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read word list: %w", err)
	}
	var lib Library
	if err := json.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("parse word list: %w", err)
	}
	return lib, nil
}

// Words returns the word list for a language/difficulty pair, or ErrNoSet.
func (l Library) Words(language, difficulty string) ([]string, error) {
	if diffs, ok := l[language]; ok {
		if words, ok := diffs[difficulty]; ok && len(words) > 0 {
			return words, nil
		}
	}
	return nil, &ErrNoSet{Language: language, Difficulty: difficulty}
}

// Empty reports whether the library has no sets at all.
func (l Library) Empty() bool { return len(l) == 0 }

// Default is a small built-in library so a server without WORDLIST_PATH
// still runs.
func Default() Library {
	return Library{
		"English": {
			"Easy": {
				"cat", "dog", "house", "tree", "sun", "moon", "fish", "car",
				"book", "chair", "apple", "star", "boat", "clock", "shoe",
			},
			"Medium": {
				"bicycle", "volcano", "penguin", "lighthouse", "tornado",
				"scarecrow", "telescope", "waterfall", "campfire", "windmill",
			},
		},
	}
}
