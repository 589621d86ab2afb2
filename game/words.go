package game

import (
	"bufio"
	"context"
	"embed"
	"strings"

	"github.com/armando-rios/pinturillo/domain"
)

//go:embed words/*.txt
var builtinWords embed.FS

// WordCatalog yields the candidate words for a difficulty tier. Tiers are
// cumulative: medium includes easy, hard includes both.
type WordCatalog interface {
	Words(ctx context.Context, difficulty Difficulty) ([]string, error)
}

type BuiltinCatalog struct {
	tiers map[Difficulty][]string
}

func NewBuiltinCatalog() *BuiltinCatalog {
	files := map[Difficulty][]string{
		DifficultyEasy:   readWordFile("words/easy.txt"),
		DifficultyMedium: readWordFile("words/medium.txt"),
		DifficultyHard:   readWordFile("words/hard.txt"),
	}

	c := &BuiltinCatalog{tiers: map[Difficulty][]string{}}
	for d := range files {
		var words []string
		for _, tier := range d.Tiers() {
			words = append(words, files[tier]...)
		}
		c.tiers[d] = words
	}
	return c
}

func (c *BuiltinCatalog) Words(_ context.Context, difficulty Difficulty) ([]string, error) {
	words, ok := c.tiers[difficulty]
	if !ok {
		return nil, domain.Invalid("unknown difficulty %q", difficulty)
	}
	return append([]string(nil), words...), nil
}

func readWordFile(name string) []string {
	f, err := builtinWords.Open(name)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if w := strings.TrimSpace(scanner.Text()); w != "" {
			words = append(words, w)
		}
	}
	return words
}

// WordPool hands out words for a single game. A word leaves available and
// lands in used, so nothing repeats within the game.
type WordPool struct {
	available []string
	used      []string
}

// NewWordPool merges the catalog words with the room's custom words,
// dropping blanks and case-insensitive duplicates, then shuffles.
func NewWordPool(catalog, custom []string, shuffle func(n int, swap func(i, j int))) *WordPool {
	seen := make(map[string]struct{}, len(catalog)+len(custom))
	words := make([]string, 0, len(catalog)+len(custom))
	for _, list := range [][]string{catalog, custom} {
		for _, w := range list {
			w = strings.TrimSpace(w)
			if w == "" {
				continue
			}
			key := strings.ToLower(w)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			words = append(words, w)
		}
	}

	if shuffle != nil {
		shuffle(len(words), func(i, j int) { words[i], words[j] = words[j], words[i] })
	}

	return &WordPool{available: words}
}

func (wp *WordPool) Pop() (string, error) {
	if len(wp.available) == 0 {
		return "", ErrWordPoolEmpty
	}
	w := wp.available[0]
	wp.available = wp.available[1:]
	wp.used = append(wp.used, w)
	return w, nil
}

func (wp *WordPool) Remaining() int { return len(wp.available) }

func (wp *WordPool) Used() []string { return append([]string(nil), wp.used...) }
