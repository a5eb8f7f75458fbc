package identity

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// wordlist is a fixed dictionary used to validate and generate four-word
// handles. Real deployments use a much larger list; this is a
// representative subset sufficient for encoding/decoding and tests.
var wordlist = []string{
	"ocean", "forest", "moon", "star", "river", "stone", "cedar", "amber",
	"winter", "summer", "harbor", "meadow", "falcon", "ember", "willow", "quartz",
	"tundra", "violet", "copper", "granite", "maple", "coral", "basalt", "linden",
	"aurora", "comet", "delta", "echo", "fjord", "glacier", "horizon", "indigo",
}

var wordIndex = func() map[string]int {
	m := make(map[string]int, len(wordlist))
	for i, w := range wordlist {
		m[w] = i
	}
	return m
}()

// ParseFourWords validates a hyphen- or space-separated four-word phrase
// against the dictionary and returns its canonical lower-case words.
func ParseFourWords(phrase string) ([4]string, error) {
	var out [4]string
	phrase = strings.TrimSpace(strings.ToLower(phrase))
	phrase = strings.NewReplacer("-", " ", "_", " ").Replace(phrase)
	fields := strings.Fields(phrase)
	if len(fields) != 4 {
		return out, fmt.Errorf("four-word handle must have exactly 4 words, got %d", len(fields))
	}
	for i, w := range fields {
		if _, ok := wordIndex[w]; !ok {
			return out, fmt.Errorf("word %q is not in the dictionary", w)
		}
		out[i] = w
	}
	return out, nil
}

// Canonical joins a parsed four-word handle with hyphens, the wire
// presentation form.
func Canonical(words [4]string) string {
	return strings.Join(words[:], "-")
}

// GenerateFourWords picks four random dictionary words, useful for
// tests and for offering a fresh handle to claim.
func GenerateFourWords() ([4]string, error) {
	var out [4]string
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(wordlist))))
		if err != nil {
			return out, err
		}
		out[i] = wordlist[n.Int64()]
	}
	return out, nil
}
