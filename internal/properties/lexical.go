package properties

import (
	"encoding/xml"
	"errors"
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"labcore/pkg/domain"
)

// MaxValueLength caps plain values of length-bounded data types, in characters.
const MaxValueLength = 1024

// TimestampLayouts are the accepted TIMESTAMP forms, tried in order.
var TimestampLayouts = []string{
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC3339,
}

func lengthBounded(dt domain.DataType) bool {
	switch dt {
	case domain.DataTypeMultilineVarchar, domain.DataTypeXML:
		return false
	default:
		return true
	}
}

// checkPlain enforces the length cap and the lexical form of a plain value.
func checkPlain(dt domain.DataType, value string) error {
	if lengthBounded(dt) {
		if n := utf8.RuneCountInString(value); n > MaxValueLength {
			return domain.NewError(domain.KindValueTooLong, "%d characters exceeds %d", n, MaxValueLength)
		}
	}
	trimmed := strings.TrimSpace(value)
	switch dt {
	case domain.DataTypeInteger:
		if _, err := strconv.ParseInt(trimmed, 10, 32); err != nil {
			return mismatch(dt, value)
		}
	case domain.DataTypeReal:
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return mismatch(dt, value)
		}
	case domain.DataTypeBoolean:
		if !strings.EqualFold(trimmed, "true") && !strings.EqualFold(trimmed, "false") {
			return mismatch(dt, value)
		}
	case domain.DataTypeTimestamp:
		if _, ok := ParseTimestamp(trimmed); !ok {
			return mismatch(dt, value)
		}
	case domain.DataTypeHyperlink:
		u, err := url.Parse(trimmed)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return mismatch(dt, value)
		}
	case domain.DataTypeXML:
		if err := wellFormed(value); err != nil {
			e := mismatch(dt, value)
			e.Err = err
			return e
		}
	}
	return nil
}

// ParseTimestamp parses value with the first matching layout.
func ParseTimestamp(value string) (time.Time, bool) {
	for _, layout := range TimestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func wellFormed(doc string) error {
	dec := xml.NewDecoder(strings.NewReader(doc))
	roots := 0
	depth := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		switch tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	if roots != 1 {
		return errors.New("xml document must have exactly one root element")
	}
	return nil
}

func mismatch(dt domain.DataType, value string) *domain.Error {
	shown := value
	if utf8.RuneCountInString(shown) > 40 {
		shown = string([]rune(shown)[:40]) + "..."
	}
	return domain.NewError(domain.KindTypeMismatch, "%q is not a valid %s", shown, dt)
}
