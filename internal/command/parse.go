// Package command implements the text command protocol shared by every channel.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a command.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindSetTime
	KindStatus
	KindSetDuration
	KindSetBrightness
	KindSetMaxBrightness
	KindCancelAlarm
	KindReboot
)

// Keywords, matched exactly on the first token.
const (
	KeywordSetTime          = "/settime"
	KeywordStatus           = "/status"
	KeywordSetDuration      = "/setduration"
	KeywordSetBrightness    = "/setbrightness"
	KeywordSetMaxBrightness = "/setmaxbrightness"
	KeywordCancelAlarm      = "/cancelalarm"
	KeywordReboot           = "/reboot"
)

var keywords = map[string]Kind{
	KeywordSetTime:          KindSetTime,
	KeywordStatus:           KindStatus,
	KeywordSetDuration:      KindSetDuration,
	KeywordSetBrightness:    KindSetBrightness,
	KeywordSetMaxBrightness: KindSetMaxBrightness,
	KeywordCancelAlarm:      KindCancelAlarm,
	KeywordReboot:           KindReboot,
}

func (k Kind) String() string {
	for kw, kind := range keywords {
		if kind == k {
			return kw
		}
	}
	return "unrecognized"
}

// Command is a parsed request.
type Command struct {
	Kind   Kind
	Raw    string
	Hour   int
	Minute int
	Value  int
	Err    error // *ParseError when the argument is missing or malformed
}

// ParseError describes a missing or malformed argument.
type ParseError struct {
	Keyword string
	Arg     string
	Missing bool
	Err     error
}

func (e *ParseError) Error() string {
	if e.Missing {
		return fmt.Sprintf("%s: missing argument", e.Keyword)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: malformed argument %q: %v", e.Keyword, e.Arg, e.Err)
	}
	return fmt.Sprintf("%s: malformed argument %q", e.Keyword, e.Arg)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse tokenizes raw text into a Command. Text that does not start with a
// known keyword yields KindUnrecognized.
func Parse(raw string) Command {
	text := strings.TrimSpace(raw)
	keyword, tail, _ := strings.Cut(text, " ")
	tail = strings.TrimSpace(tail)

	kind, ok := keywords[keyword]
	if !ok {
		return Command{Kind: KindUnrecognized, Raw: raw}
	}

	cmd := Command{Kind: kind, Raw: raw}

	switch kind {
	case KindSetTime:
		if tail == "" {
			cmd.Err = &ParseError{Keyword: keyword, Missing: true}
			return cmd
		}
		hour, minute, err := parseClock(tail)
		if err != nil {
			cmd.Err = &ParseError{Keyword: keyword, Arg: tail, Err: err}
			return cmd
		}
		cmd.Hour, cmd.Minute = hour, minute

	case KindSetDuration, KindSetBrightness, KindSetMaxBrightness:
		if tail == "" {
			cmd.Err = &ParseError{Keyword: keyword, Missing: true}
			return cmd
		}
		v, err := strconv.Atoi(tail)
		if err != nil {
			cmd.Err = &ParseError{Keyword: keyword, Arg: tail, Err: err}
			return cmd
		}
		cmd.Value = v
	}

	return cmd
}

// parseClock parses "H:M". Range checks are left to the alarm scheduler.
func parseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, errors.New("expected HH:MM")
	}
	if hour, err = strconv.Atoi(strings.TrimSpace(h)); err != nil {
		return 0, 0, err
	}
	if minute, err = strconv.Atoi(strings.TrimSpace(m)); err != nil {
		return 0, 0, err
	}
	return hour, minute, nil
}
