package tts

import (
	"math/rand/v2"
	"strings"
)

// MarketPrefix marks voice ids that live in the public voice market.
const MarketPrefix = "market:"

// Prompt is one emotional reference recording of a voice.
type Prompt struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// VoiceProfile is the voice metadata fetched on each configuration reload.
type VoiceProfile struct {
	ID      string
	Prompts []Prompt
}

// PromptFor picks the first prompt whose name occurs in tag, falling back to a
// uniformly random prompt. ok is false when the profile has no prompts.
func (v VoiceProfile) PromptFor(tag string, rng *rand.Rand) (p Prompt, matched, ok bool) {
	if len(v.Prompts) == 0 {
		return Prompt{}, false, false
	}
	for _, p := range v.Prompts {
		if p.Name != "" && strings.Contains(tag, p.Name) {
			return p, true, true
		}
	}
	var i int
	if rng != nil {
		i = rng.IntN(len(v.Prompts))
	} else {
		i = rand.IntN(len(v.Prompts))
	}
	return v.Prompts[i], false, true
}

// Voice is a catalogue entry.
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Label renders the entry the way a picker shows it.
func (v Voice) Label() string {
	return v.Name + " (" + v.ID + ")"
}

// Response is a completion split into the text to speak and its emotion tag.
type Response struct {
	Text       string
	EmotionTag string
}
