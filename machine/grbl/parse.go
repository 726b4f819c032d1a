package grbl

import (
	"errors"
	"strconv"
	"strings"

	"github.com/mastercactapus/wellcnc/coord"
	"github.com/mastercactapus/wellcnc/machine"
)

var errIncompleteFrame = errors.New("incomplete status frame")

func parseCoords(data string) (p coord.Point, err error) {
	parts := strings.Split(data, ",")
	if len(parts) != 3 {
		return p, errors.New("invalid number of elements")
	}
	p.X, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return p, err
	}
	p.Y, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return p, err
	}
	p.Z, err = strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return p, err
	}
	return p, nil
}

// field returns the three values following key, e.g. `MPos:`.
func field(body, key string) (string, bool) {
	i := strings.Index(body, key)
	if i < 0 {
		return "", false
	}
	rest := body[i+len(key):]
	if j := strings.IndexByte(rest, '|'); j >= 0 {
		rest = rest[:j]
	}
	parts := strings.SplitN(rest, ",", 4)
	if len(parts) < 3 {
		return "", false
	}
	return strings.Join(parts[:3], ","), true
}

// ParseStatus parses a status report in either the 1.1 layout
// (`<Idle|MPos:1.000,2.000,0.000|FS:0,0>`) or the 0.9 layout
// (`<Idle,MPos:1.000,2.000,0.000,WPos:...>`). The report must contain MPos.
func ParseStatus(frame string) (*machine.State, error) {
	frame = strings.TrimSpace(frame)
	if !strings.HasPrefix(frame, "<") || !strings.HasSuffix(frame, ">") {
		return nil, errIncompleteFrame
	}
	body := frame[1 : len(frame)-1]

	var stat machine.State
	end := strings.IndexAny(body, "|,")
	if end < 0 {
		return nil, errIncompleteFrame
	}
	stat.Status = body[:end]
	if stat.Status == "" {
		return nil, errors.New("missing state")
	}

	mpos, ok := field(body, "MPos:")
	if !ok {
		return nil, errors.New("missing MPos")
	}
	var err error
	stat.MPos, err = parseCoords(mpos)
	if err != nil {
		return nil, err
	}

	if wco, ok := field(body, "WCO:"); ok {
		stat.WCO, err = parseCoords(wco)
	} else if wpos, ok := field(body, "WPos:"); ok {
		var p coord.Point
		p, err = parseCoords(wpos)
		stat.WCO = stat.MPos.Sub(p)
	}
	if err != nil {
		return nil, err
	}
	return &stat, nil
}
