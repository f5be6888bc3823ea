package frame

import (
	"fmt"
	"strconv"
	"strings"
)

// Candidate is one parsed entry of a CAS (connection address set), spec §6:
//
//	component ':' protocol ':' ip ':' port ':' priority ':' username ':'
//	password ':' type ':' generation ':' foundation
type Candidate struct {
	Component  int
	Protocol   string
	IP         string
	Port       int
	Priority   uint32
	Username   string
	Password   string
	Type       string
	Generation int
	Foundation string
}

// ErrMalformedCandidate is returned when a candidate string has fewer than
// the 10 required colon-separated fields.
var ErrMalformedCandidate = fmt.Errorf("frame: malformed candidate string")

// ParseCandidate parses a single candidate entry, spec §6. Fields with fewer
// than 10 colon-separated parts are rejected.
func ParseCandidate(s string) (Candidate, error) {
	fields := strings.Split(s, ":")
	if len(fields) < 10 {
		return Candidate{}, fmt.Errorf("%w: got %d fields, want 10", ErrMalformedCandidate, len(fields))
	}

	component, err := strconv.Atoi(fields[0])
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: component %q: %v", ErrMalformedCandidate, fields[0], err)
	}
	port, err := strconv.Atoi(fields[3])
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: port %q: %v", ErrMalformedCandidate, fields[3], err)
	}
	priority, err := strconv.ParseUint(fields[4], 10, 32)
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: priority %q: %v", ErrMalformedCandidate, fields[4], err)
	}
	generation, err := strconv.Atoi(fields[8])
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: generation %q: %v", ErrMalformedCandidate, fields[8], err)
	}

	return Candidate{
		Component:  component,
		Protocol:   fields[1],
		IP:         fields[2],
		Port:       port,
		Priority:   uint32(priority),
		Username:   fields[5],
		Password:   fields[6],
		Type:       fields[7],
		Generation: generation,
		Foundation: strings.Join(fields[9:], ":"),
	}, nil
}

// String renders the candidate back into its wire form.
func (c Candidate) String() string {
	return strings.Join([]string{
		strconv.Itoa(c.Component),
		c.Protocol,
		c.IP,
		strconv.Itoa(c.Port),
		strconv.FormatUint(uint64(c.Priority), 10),
		c.Username,
		c.Password,
		c.Type,
		strconv.Itoa(c.Generation),
		c.Foundation,
	}, ":")
}

// JoinCAS joins candidates into a single space-separated CAS string.
func JoinCAS(cands []Candidate) string {
	parts := make([]string, len(cands))
	for i, c := range cands {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}

// ParseCAS splits a CAS string on whitespace and parses each entry,
// discarding malformed entries (spec §6).
func ParseCAS(cas string) []Candidate {
	var out []Candidate
	for _, field := range strings.Fields(cas) {
		c, err := ParseCandidate(field)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}
