// Package config loads the declarative fleet description and resolves it
// into the model.Config object the core engine consumes. Parsing and
// group-reference expansion live here, separate from the core engine,
// which only ever consumes an already-resolved configuration object.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/easybill/mehsh/model"
)

// rawPeer mirrors one peer entry in the fleet file.
type rawPeer struct {
	Identifier string   `json:"identifier"`
	IP         string   `json:"ip"`
	Datacenter string   `json:"datacenter,omitempty"`
	Groups     []string `json:"groups,omitempty"`
	Extra      []string `json:"extra,omitempty"`
}

type rawGroup struct {
	Name    string   `json:"name"`
	Members []string `json:"members,omitempty"`
}

type rawCheck struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Kind    string `json:"kind"`
	HTTPURL string `json:"http_url,omitempty"`
}

type rawAnalysis struct {
	Name             string `json:"name"`
	From             string `json:"from"`
	To               string `json:"to"`
	MinLossThreshold uint32 `json:"min_loss_threshold"`
	Command          string `json:"command"`
}

// Raw is the on-disk fleet description, before group references are
// expanded into concrete peer pairs.
type Raw struct {
	Self          string        `json:"self"`
	Peers         []rawPeer     `json:"peers"`
	Groups        []rawGroup    `json:"groups"`
	Checks        []rawCheck    `json:"checks"`
	Analyses      []rawAnalysis `json:"analyses"`
	MetricEmitter bool          `json:"metric_emitter"`
	ReportRoot    string        `json:"report_root"`
}

// LoadFile reads the fleet description at path. A missing or malformed
// file is always fatal: unlike a per-user UI preference file, there is no
// sane default for "which peers does this mesh have", so a read or parse
// failure is returned as an error rather than silently defaulted.
func LoadFile(path string) (Raw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Raw{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw Raw
	if err := json.Unmarshal(data, &raw); err != nil {
		return Raw{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return raw, nil
}

// Resolve expands raw's group references and produces the fully resolved
// model.Config the supervisor consumes.
func Resolve(raw Raw) (model.Config, error) {
	peersByID := make(map[string]model.Peer, len(raw.Peers))
	groupsByName := make(map[string][]string, len(raw.Groups))

	for _, rg := range raw.Groups {
		groupsByName[rg.Name] = rg.Members
	}

	for _, rp := range raw.Peers {
		if _, dup := peersByID[rp.Identifier]; dup {
			return model.Config{}, fmt.Errorf("config: peer %q declared twice", rp.Identifier)
		}
		ip := net.ParseIP(rp.IP)
		if ip == nil {
			return model.Config{}, fmt.Errorf("config: peer %q: invalid ip %q", rp.Identifier, rp.IP)
		}
		var extra [3]string
		for i := 0; i < len(rp.Extra) && i < 3; i++ {
			extra[i] = rp.Extra[i]
		}
		peersByID[rp.Identifier] = model.Peer{
			Identifier: rp.Identifier,
			IP:         ip,
			Datacenter: rp.Datacenter,
			Groups:     rp.Groups,
			Extra:      extra,
		}
	}

	for id := range peersByID {
		if _, isGroup := groupsByName[id]; isGroup {
			return model.Config{}, fmt.Errorf("config: identifier %q is ambiguous (both a peer and a group)", id)
		}
	}

	// A peer's declared Groups is the authoritative membership source
	// (mirrors mehsh_common's resolve_idents, which filters servers by
	// `s.groups.contains(identifier)` rather than trusting the group's
	// own member list); an explicit group.Members list is honored too,
	// additively, so both declaration styles work.
	membersOf := func(group string) []string {
		seen := make(map[string]struct{})
		var out []string
		for _, id := range groupsByName[group] {
			if _, ok := peersByID[id]; ok {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					out = append(out, id)
				}
			}
		}
		for id, p := range peersByID {
			for _, g := range p.Groups {
				if g != group {
					continue
				}
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					out = append(out, id)
				}
			}
		}
		return out
	}

	resolveIdents := func(identifier string) ([]model.Peer, error) {
		_, isPeer := peersByID[identifier]
		_, isGroup := groupsByName[identifier]
		if isPeer && isGroup {
			return nil, fmt.Errorf("config: identifier %q is ambiguous (both a peer and a group)", identifier)
		}
		if isPeer {
			return []model.Peer{peersByID[identifier]}, nil
		}
		if isGroup {
			var out []model.Peer
			for _, id := range membersOf(identifier) {
				out = append(out, peersByID[id])
			}
			return out, nil
		}
		// Unknown identifier resolves to the empty set; the caller
		// decides whether that is fatal for a given check.
		return nil, nil
	}

	cfg := model.Config{
		Self:                 raw.Self,
		Peers:                peersByID,
		MetricEmitterEnabled: raw.MetricEmitter,
		ReportRoot:           raw.ReportRoot,
	}
	cfg.Groups = make(map[string]model.Group, len(raw.Groups))
	for _, rg := range raw.Groups {
		cfg.Groups[rg.Name] = model.Group{Name: rg.Name, Members: membersOf(rg.Name)}
	}

	for _, rc := range raw.Checks {
		kind := model.CheckKind(rc.Kind)
		if kind != model.CheckUDPPing && kind != model.CheckHTTP {
			return model.Config{}, fmt.Errorf("config: check %s -> %s: unknown kind %q", rc.From, rc.To, rc.Kind)
		}
		froms, err := resolveIdents(rc.From)
		if err != nil {
			return model.Config{}, err
		}
		tos, err := resolveIdents(rc.To)
		if err != nil {
			return model.Config{}, err
		}
		for _, from := range froms {
			for _, to := range tos {
				cfg.Checks = append(cfg.Checks, model.ResolvedCheck{
					From:    from,
					To:      to,
					Kind:    kind,
					HTTPURL: rc.HTTPURL,
				})
			}
		}
	}

	for _, ra := range raw.Analyses {
		froms, err := resolveIdents(ra.From)
		if err != nil {
			return model.Config{}, err
		}
		tos, err := resolveIdents(ra.To)
		if err != nil {
			return model.Config{}, err
		}
		for _, from := range froms {
			for _, to := range tos {
				cfg.Analyses = append(cfg.Analyses, model.ResolvedRouteAnalysisConfig{
					Name:             ra.Name,
					From:             from,
					To:               to,
					MinLossThreshold: ra.MinLossThreshold,
					CommandTemplate:  ra.Command,
				})
			}
		}
	}

	return cfg, nil
}

// Load reads and resolves the fleet description in one call; the common
// case for cmd/.
func Load(path string) (model.Config, error) {
	raw, err := LoadFile(path)
	if err != nil {
		return model.Config{}, err
	}
	return Resolve(raw)
}
