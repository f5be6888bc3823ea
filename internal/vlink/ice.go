package vlink

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/stun/v3"

	"github.com/ipop-project/ipop-tincan-sub000/internal/frame"
)

// buildAgentConfig mirrors the teacher's vl1.NewNATTraversal/CreateICEAgent
// shape, generalized to take a per-link VlinkDescriptor instead of a
// process-wide server list.
func buildAgentConfig(desc VlinkDescriptor, log *slog.Logger) (*ice.AgentConfig, error) {
	var urls []*stun.URI

	if desc.StunAddr != "" {
		u, err := stun.ParseURI(desc.StunAddr)
		if err != nil {
			log.Debug("parse STUN URI", "uri", desc.StunAddr, "err", err)
		} else {
			urls = append(urls, u)
		}
	}
	if desc.TurnAddr != "" {
		u, err := stun.ParseURI(desc.TurnAddr)
		if err != nil {
			log.Debug("parse TURN URI", "uri", desc.TurnAddr, "err", err)
		} else {
			u.Username = desc.TurnUser
			u.Password = desc.TurnPass
			urls = append(urls, u)
		}
	}

	disc := 10 * time.Second
	failed := 30 * time.Second
	keepalive := 2 * time.Second

	cfg := &ice.AgentConfig{
		Urls:                urls,
		NetworkTypes:        []ice.NetworkType{ice.NetworkTypeUDP4, ice.NetworkTypeUDP6},
		CandidateTypes:      []ice.CandidateType{ice.CandidateTypeHost, ice.CandidateTypeServerReflexive, ice.CandidateTypeRelay},
		DisconnectedTimeout: &disc,
		FailedTimeout:       &failed,
		KeepaliveInterval:   &keepalive,
	}

	if len(desc.IgnoredInterfaces) > 0 {
		ignored := make(map[string]struct{}, len(desc.IgnoredInterfaces))
		for _, name := range desc.IgnoredInterfaces {
			ignored[name] = struct{}{}
		}
		cfg.InterfaceFilter = func(name string) bool {
			_, skip := ignored[name]
			return !skip
		}
	}

	return cfg, nil
}

// toWireCandidate converts a gathered ice.Candidate plus the agent's local
// ICE credentials into the §6 10-field wire form. generation is always "0",
// per SPEC_FULL.md §3.4: the ICE library's candidate line has no notion of
// it.
func toWireCandidate(c ice.Candidate, ufrag, pwd string) frame.Candidate {
	return frame.Candidate{
		Component:  int(c.Component()),
		Protocol:   c.NetworkType().NetworkShort(),
		IP:         c.Address(),
		Port:       c.Port(),
		Priority:   c.Priority(),
		Username:   ufrag,
		Password:   pwd,
		Type:       c.Type().String(),
		Generation: 0,
		Foundation: c.Foundation(),
	}
}

// fromWireCandidate reconstructs an ice.Candidate from a parsed wire
// candidate, dispatching on its Type field the way the teacher's nat.go
// dispatches on CandidateType when building AgentConfig.CandidateTypes.
func fromWireCandidate(c frame.Candidate) (ice.Candidate, error) {
	switch c.Type {
	case "host":
		return ice.NewCandidateHost(&ice.CandidateHostConfig{
			Network:    c.Protocol,
			Address:    c.IP,
			Port:       c.Port,
			Component:  uint16(c.Component),
			Priority:   c.Priority,
			Foundation: c.Foundation,
		})
	case "srflx":
		return ice.NewCandidateServerReflexive(&ice.CandidateServerReflexiveConfig{
			Network:    c.Protocol,
			Address:    c.IP,
			Port:       c.Port,
			Component:  uint16(c.Component),
			Priority:   c.Priority,
			Foundation: c.Foundation,
		})
	case "relay":
		return ice.NewCandidateRelay(&ice.CandidateRelayConfig{
			Network:    c.Protocol,
			Address:    c.IP,
			Port:       c.Port,
			Component:  uint16(c.Component),
			Priority:   c.Priority,
			Foundation: c.Foundation,
		})
	default:
		return nil, fmt.Errorf("%w: unknown candidate type %q", frame.ErrMalformedCandidate, c.Type)
	}
}
