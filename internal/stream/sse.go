package stream

import (
	"bufio"
	"io"
	"strings"
)

// Event is one Server-Sent Event.
type Event struct {
	// Type is the "event:" field; empty for the default message type.
	Type string
	// Data joins the event's "data:" lines with newlines.
	Data string
}

// Scanner reads Server-Sent Events from an io.Reader. Events end at a blank
// line; comment lines (":") and unknown fields are skipped.
//
//	scanner := NewScanner(body)
//	for scanner.Next() {
//	    event := scanner.Event()
//	}
//	err := scanner.Err()
type Scanner struct {
	reader  *bufio.Reader
	current Event
	err     error
}

// NewScanner wraps r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next event. It returns false at EOF or on error;
// Err tells the two apart.
func (s *Scanner) Next() bool {
	s.current = Event{}
	if s.err != nil {
		return false
	}

	var dataLines []string
	var eventType string
	hasData := false

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			s.err = err
			if err == io.EOF && hasData {
				s.current = Event{Type: eventType, Data: strings.Join(dataLines, "\n")}
				return true
			}
			return false
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				s.current = Event{Type: eventType, Data: strings.Join(dataLines, "\n")}
				return true
			}
			eventType = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if hasColon {
			value = strings.TrimPrefix(value, " ")
		} else {
			field, value = line, ""
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			eventType = value
		}
	}
}

// Event is the last event Next produced.
func (s *Scanner) Event() Event {
	return s.current
}

// Err is the error that stopped the scanner; nil after a clean EOF.
func (s *Scanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
