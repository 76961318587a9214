package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrNoCommand means the text does not start with the command prefix.
	ErrNoCommand = errors.New("not a command")
	// ErrUnknownCommand means the prefix was followed by an unknown keyword.
	ErrUnknownCommand = errors.New("unknown command")
)

// ParseError is a recognised command with malformed arguments.
type ParseError struct {
	Command string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse %s: %s", e.Command, e.Reason)
}

// Command is one parsed chat command. The set of implementations is closed;
// the router switches over all of them.
type Command interface {
	Name() string
	command()
}

// JoinVoice authorizes the channel and author, then joins the author's voice channel.
type JoinVoice struct{}

// LeaveVoice clears both allow-lists and leaves the scope's voice session.
type LeaveVoice struct{}

// Speak reads Text with the selected voice.
type Speak struct {
	Text string
	// Plain is set when the text arrived without the command prefix.
	Plain bool
}

// SpeakWithID reads Text with an explicit voice.
type SpeakWithID struct {
	VoiceID int
	Text    string
}

// ListVoices posts the catalog, optionally sorted by id.
type ListVoices struct {
	Sorted bool
}

// SelectVoice changes the selected voice.
type SelectVoice struct {
	VoiceID int
}

// AuthorizeChannel allows playback from the invoking channel.
type AuthorizeChannel struct{}

// AuthorizeUser allows playback for the invoking user.
type AuthorizeUser struct{}

// RevokeSelf removes the invoking user from the allow-list.
type RevokeSelf struct{}

func (JoinVoice) Name() string        { return "join-voice" }
func (LeaveVoice) Name() string       { return "leave-voice" }
func (Speak) Name() string            { return "speak" }
func (SpeakWithID) Name() string      { return "speak-with-id" }
func (ListVoices) Name() string       { return "list-voices" }
func (SelectVoice) Name() string      { return "select-voice" }
func (AuthorizeChannel) Name() string { return "authorize-channel" }
func (AuthorizeUser) Name() string    { return "authorize-user" }
func (RevokeSelf) Name() string       { return "revoke-self" }

func (JoinVoice) command()        {}
func (LeaveVoice) command()       {}
func (Speak) command()            {}
func (SpeakWithID) command()      {}
func (ListVoices) command()       {}
func (SelectVoice) command()      {}
func (AuthorizeChannel) command() {}
func (AuthorizeUser) command()    {}
func (RevokeSelf) command()       {}

// IsPlayback reports whether cmd is subject to the playback gate.
func IsPlayback(cmd Command) bool {
	switch cmd.(type) {
	case Speak, SpeakWithID:
		return true
	}
	return false
}

// aliases maps every accepted keyword to its canonical name.
var aliases = map[string]string{
	"join-voice": "join-voice",
	"join":       "join-voice",
	"invite":     "join-voice",
	"comeon":     "join-voice",
	"summon":     "join-voice",

	"leave-voice": "leave-voice",
	"leave":       "leave-voice",
	"kill":        "leave-voice",
	"fire":        "leave-voice",

	"speak": "speak",
	"r":     "speak",
	"read":  "speak",

	"speak-with-id": "speak-with-id",
	"i":             "speak-with-id",
	"read-with-id":  "speak-with-id",

	"list-voices": "list-voices",
	"list":        "list-voices",
	"list-sorted": "list-voices-sorted",
	"list-pretty": "list-voices-sorted",

	"select-voice": "select-voice",
	"set":          "select-voice",
	"select":       "select-voice",

	"authorize-channel": "authorize-channel",
	"authorize-user":    "authorize-user",
	"readme":            "authorize-user",
	"revoke-self":       "revoke-self",
	"ignore":            "revoke-self",
}

// Parse turns prefixed chat text into a Command.
func Parse(prefix, text string) (Command, error) {
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return nil, ErrNoCommand
	}
	keyword, rest := splitWord(text[len(prefix):])
	if keyword == "" {
		return nil, ErrNoCommand
	}

	name, ok := aliases[normalize(keyword)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, keyword)
	}

	switch name {
	case "join-voice":
		return JoinVoice{}, nil
	case "leave-voice":
		return LeaveVoice{}, nil
	case "speak":
		if rest == "" {
			return nil, &ParseError{Command: name, Reason: "missing text"}
		}
		return Speak{Text: rest}, nil
	case "speak-with-id":
		idText, text := splitWord(rest)
		id, err := parseVoiceID(name, idText)
		if err != nil {
			return nil, err
		}
		if text == "" {
			return nil, &ParseError{Command: name, Reason: "missing text"}
		}
		return SpeakWithID{VoiceID: id, Text: text}, nil
	case "list-voices":
		arg, _ := splitWord(rest)
		arg = normalize(arg)
		return ListVoices{Sorted: arg == "sorted" || arg == "pretty"}, nil
	case "list-voices-sorted":
		return ListVoices{Sorted: true}, nil
	case "select-voice":
		idText, _ := splitWord(rest)
		id, err := parseVoiceID(name, idText)
		if err != nil {
			return nil, err
		}
		return SelectVoice{VoiceID: id}, nil
	case "authorize-channel":
		return AuthorizeChannel{}, nil
	case "authorize-user":
		return AuthorizeUser{}, nil
	case "revoke-self":
		return RevokeSelf{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, keyword)
}

func parseVoiceID(command, text string) (int, error) {
	if text == "" {
		return 0, &ParseError{Command: command, Reason: "missing voice id"}
	}
	id, err := strconv.Atoi(text)
	// Overflowing ids come back clamped and fail the catalog range check.
	if errors.Is(err, strconv.ErrRange) {
		return id, nil
	}
	if err != nil {
		return 0, &ParseError{Command: command, Reason: fmt.Sprintf("%q is not a voice id", text)}
	}
	return id, nil
}

// splitWord returns the first whitespace-delimited word and the trimmed rest.
func splitWord(s string) (string, string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	end := strings.IndexFunc(s, unicode.IsSpace)
	if end < 0 {
		return s, ""
	}
	return s[:end], strings.TrimSpace(s[end:])
}

func normalize(keyword string) string {
	return strings.ReplaceAll(strings.ToLower(keyword), "_", "-")
}
