package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EntryID is a log position of the form <unix_ms>-<seq>. Ids compare by
// millisecond first and sequence second, so lexical order of the parsed
// pair is append order.
type EntryID struct {
	Millis uint64
	Seq    uint64
}

func ParseEntryID(raw string) (EntryID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" || raw == "-" {
		return EntryID{}, nil
	}
	msPart, seqPart, hasSeq := strings.Cut(raw, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return EntryID{}, fmt.Errorf("%w: entry id %q", ErrValidation, raw)
	}
	var seq uint64
	if hasSeq {
		seq, err = strconv.ParseUint(seqPart, 10, 64)
		if err != nil {
			return EntryID{}, fmt.Errorf("%w: entry id %q", ErrValidation, raw)
		}
	}
	return EntryID{Millis: ms, Seq: seq}, nil
}

func MustParseEntryID(raw string) EntryID {
	id, err := ParseEntryID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

func (id EntryID) String() string {
	return strconv.FormatUint(id.Millis, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

func (id EntryID) IsZero() bool { return id.Millis == 0 && id.Seq == 0 }

func (id EntryID) Less(other EntryID) bool {
	if id.Millis != other.Millis {
		return id.Millis < other.Millis
	}
	return id.Seq < other.Seq
}

// NextEntryID derives an id from the append time that is strictly greater
// than last, even when the clock stalls or steps backwards.
func NextEntryID(last EntryID, now time.Time) EntryID {
	ms := uint64(now.UnixMilli())
	if ms > last.Millis {
		return EntryID{Millis: ms}
	}
	return EntryID{Millis: last.Millis, Seq: last.Seq + 1}
}
