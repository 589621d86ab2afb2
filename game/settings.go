package game

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/armando-rios/pinturillo/domain"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Tiers lists the word tiers a difficulty draws from. Tiers are
// cumulative: medium includes easy, hard includes both.
func (d Difficulty) Tiers() []Difficulty {
	switch d {
	case DifficultyEasy:
		return []Difficulty{DifficultyEasy}
	case DifficultyMedium:
		return []Difficulty{DifficultyEasy, DifficultyMedium}
	case DifficultyHard:
		return []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}
	}
	return nil
}

const (
	MinPlayers           = 2
	MaxPlayers           = 12
	MinRounds            = 1
	MaxRounds            = 10
	MinDrawingSeconds    = 30
	MaxDrawingSeconds    = 180
	MinGuessingSeconds   = 5
	MaxGuessingSeconds   = 30
	MaxCustomWords       = 50
	MaxCustomWordLength  = 20
	MinRoomNameLength    = 3
	MaxRoomNameLength    = 30
	MaxRoomPasswordBytes = 64
)

var roomNamePattern = regexp.MustCompile(`^[a-zA-Z0-9\s_-]+$`)

// RoomSettings are edited by the host while the room waits. A game copies
// them at start, so later edits never reach a running game.
type RoomSettings struct {
	MaxPlayers        int        `json:"maxPlayers"`
	Rounds            int        `json:"rounds"`
	DrawingTimeLimit  int        `json:"drawingTimeLimit"`
	GuessingTimeLimit int        `json:"guessingTimeLimit"`
	Difficulty        Difficulty `json:"difficulty"`
	CustomWords       []string   `json:"customWords"`
}

// SettingsPatch carries only the fields the host wants to change.
type SettingsPatch struct {
	MaxPlayers        *int        `json:"maxPlayers"`
	Rounds            *int        `json:"rounds"`
	DrawingTimeLimit  *int        `json:"drawingTimeLimit"`
	GuessingTimeLimit *int        `json:"guessingTimeLimit"`
	Difficulty        *Difficulty `json:"difficulty"`
	CustomWords       *[]string   `json:"customWords"`
}

func DefaultSettings() RoomSettings {
	return RoomSettings{
		MaxPlayers:        8,
		Rounds:            3,
		DrawingTimeLimit:  60,
		GuessingTimeLimit: 10,
		Difficulty:        DifficultyMedium,
		CustomWords:       []string{},
	}
}

func (s RoomSettings) DrawingDuration() time.Duration {
	return time.Duration(s.DrawingTimeLimit) * time.Second
}

func (s RoomSettings) clone() RoomSettings {
	c := s
	c.CustomWords = make([]string, len(s.CustomWords))
	copy(c.CustomWords, s.CustomWords)
	return c
}

// withDefaults fills zero values from defaults. Used when a create request
// omits fields.
func (s RoomSettings) withDefaults(defaults RoomSettings) RoomSettings {
	if s.MaxPlayers == 0 {
		s.MaxPlayers = defaults.MaxPlayers
	}
	if s.Rounds == 0 {
		s.Rounds = defaults.Rounds
	}
	if s.DrawingTimeLimit == 0 {
		s.DrawingTimeLimit = defaults.DrawingTimeLimit
	}
	if s.GuessingTimeLimit == 0 {
		s.GuessingTimeLimit = defaults.GuessingTimeLimit
	}
	if s.Difficulty == "" {
		s.Difficulty = defaults.Difficulty
	}
	if s.CustomWords == nil {
		s.CustomWords = []string{}
	}
	return s
}

func (s RoomSettings) Validate() error {
	if err := validateMaxPlayers(s.MaxPlayers); err != nil {
		return err
	}
	if err := validateRounds(s.Rounds); err != nil {
		return err
	}
	if err := validateDrawingTime(s.DrawingTimeLimit); err != nil {
		return err
	}
	if err := validateGuessingTime(s.GuessingTimeLimit); err != nil {
		return err
	}
	if err := validateDifficulty(s.Difficulty); err != nil {
		return err
	}
	_, err := normalizeCustomWords(s.CustomWords)
	return err
}

// apply validates every present field and returns the patched copy. The
// receiver is never modified.
func (s RoomSettings) apply(patch SettingsPatch, playerCount int) (RoomSettings, error) {
	next := s.clone()

	if patch.MaxPlayers != nil {
		if err := validateMaxPlayers(*patch.MaxPlayers); err != nil {
			return s, err
		}
		if *patch.MaxPlayers < playerCount {
			return s, domain.Invalid("maxPlayers cannot be lower than the current player count (%d)", playerCount)
		}
		next.MaxPlayers = *patch.MaxPlayers
	}
	if patch.Rounds != nil {
		if err := validateRounds(*patch.Rounds); err != nil {
			return s, err
		}
		next.Rounds = *patch.Rounds
	}
	if patch.DrawingTimeLimit != nil {
		if err := validateDrawingTime(*patch.DrawingTimeLimit); err != nil {
			return s, err
		}
		next.DrawingTimeLimit = *patch.DrawingTimeLimit
	}
	if patch.GuessingTimeLimit != nil {
		if err := validateGuessingTime(*patch.GuessingTimeLimit); err != nil {
			return s, err
		}
		next.GuessingTimeLimit = *patch.GuessingTimeLimit
	}
	if patch.Difficulty != nil {
		if err := validateDifficulty(*patch.Difficulty); err != nil {
			return s, err
		}
		next.Difficulty = *patch.Difficulty
	}
	if patch.CustomWords != nil {
		words, err := normalizeCustomWords(*patch.CustomWords)
		if err != nil {
			return s, err
		}
		next.CustomWords = words
	}

	return next, nil
}

func validateMaxPlayers(n int) error {
	switch {
	case n < MinPlayers:
		return domain.Invalid("maxPlayers must be at least %d", MinPlayers)
	case n > MaxPlayers:
		return domain.Invalid("maxPlayers cannot exceed %d", MaxPlayers)
	}
	return nil
}

func validateRounds(n int) error {
	switch {
	case n < MinRounds:
		return domain.Invalid("rounds must be at least %d", MinRounds)
	case n > MaxRounds:
		return domain.Invalid("rounds cannot exceed %d", MaxRounds)
	}
	return nil
}

func validateDrawingTime(n int) error {
	switch {
	case n < MinDrawingSeconds:
		return domain.Invalid("drawingTimeLimit must be at least %d seconds", MinDrawingSeconds)
	case n > MaxDrawingSeconds:
		return domain.Invalid("drawingTimeLimit cannot exceed %d seconds", MaxDrawingSeconds)
	}
	return nil
}

func validateGuessingTime(n int) error {
	switch {
	case n < MinGuessingSeconds:
		return domain.Invalid("guessingTimeLimit must be at least %d seconds", MinGuessingSeconds)
	case n > MaxGuessingSeconds:
		return domain.Invalid("guessingTimeLimit cannot exceed %d seconds", MaxGuessingSeconds)
	}
	return nil
}

func validateDifficulty(d Difficulty) error {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return nil
	}
	return domain.Invalid("difficulty must be one of easy, medium, hard")
}

func normalizeCustomWords(words []string) ([]string, error) {
	if len(words) > MaxCustomWords {
		return nil, domain.Invalid("customWords cannot contain more than %d words", MaxCustomWords)
	}
	out := make([]string, 0, len(words))
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		n := utf8.RuneCountInString(w)
		if n == 0 {
			return nil, domain.Invalid("customWords cannot contain empty words")
		}
		if n > MaxCustomWordLength {
			return nil, domain.Invalid("custom word %q exceeds %d characters", w, MaxCustomWordLength)
		}
		key := strings.ToLower(w)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, w)
	}
	return out, nil
}

func validateRoomName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	switch {
	case n == 0:
		return "", domain.Invalid("room name is required")
	case n < MinRoomNameLength:
		return "", domain.Invalid("room name must be at least %d characters", MinRoomNameLength)
	case n > MaxRoomNameLength:
		return "", domain.Invalid("room name cannot exceed %d characters", MaxRoomNameLength)
	case !roomNamePattern.MatchString(name):
		return "", domain.Invalid("room name may only contain letters, digits, spaces, dashes and underscores")
	}
	return name, nil
}
