package bot

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/lexiqai/voice-reader/internal/access"
)

// MaxMessageLength is the gateway's limit for one chat message.
const MaxMessageLength = 2000

// User-visible replies.
const (
	msgNoVoiceChannel = "Join a voice channel first so I know where to go."
	msgJoinFailed     = "I can't join that voice channel."
	msgLeft           = "See you! :wave:"
	msgNotInVoice     = "Not in a voice channel."
	msgNotInVoicePlay = "Not in a voice channel to play in."
	msgSynthesisFail  = "Could not read that aloud, the speech engine failed. Please try again."
	msgPlaybackFail   = "Could not play the audio."
	msgChannelAllowed = "Messages in this channel will be read aloud."
	msgCatalogEmpty   = "No voices are available."
)

func joinedMessage(channelID string) string {
	return fmt.Sprintf("Connected to <#%s>!", channelID)
}

func leaveFailedMessage(err error) string {
	return fmt.Sprintf("Failed to leave: %v", err)
}

func parseFailedMessage(err *ParseError) string {
	return fmt.Sprintf("Could not parse that command (%s).", err.Reason)
}

func rangeMessage(err *access.RangeError) string {
	if err.Length == 0 {
		return msgCatalogEmpty
	}
	return fmt.Sprintf("Accepted voice ids: 0 ~ %d", err.Length-1)
}

func selectedMessage(id int, label string) string {
	return fmt.Sprintf("Voice set to %02d %s.", id, cleanLabel(label))
}

// formatVoices renders one "・NN label" line per voice.
func formatVoices(voices []access.Voice) string {
	var b strings.Builder
	for _, v := range voices {
		id, err := strconv.Atoi(v.ID)
		if err != nil {
			fmt.Fprintf(&b, "・%s %s\n", v.ID, cleanLabel(v.Label))
			continue
		}
		fmt.Fprintf(&b, "・%02d %s\n", id, cleanLabel(v.Label))
	}
	return b.String()
}

func cleanLabel(label string) string {
	return strings.ReplaceAll(label, `"`, "")
}

// splitMessage breaks text into chunks of at most limit characters, cutting
// on line boundaries where possible.
func splitMessage(text string, limit int) []string {
	var chunks []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		for utf8.RuneCountInString(line) > limit {
			flush()
			runes := []rune(line)
			chunks = append(chunks, string(runes[:limit]))
			line = string(runes[limit:])
		}
		if utf8.RuneCountInString(current.String())+utf8.RuneCountInString(line) > limit {
			flush()
		}
		current.WriteString(line)
	}
	flush()
	return chunks
}
