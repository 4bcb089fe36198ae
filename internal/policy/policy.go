// Package policy resolves a stack of trust-ranked configuration layers
// into the single effective *config.Config a sandbox launch runs under.
//
// This generalizes the two-level config.Merge(base, override) that
// internal/config already implements (used today for template "extends"
// chains) into an N-layer stack with a trust boundary: layers marked
// Trusted establish a ceiling that no untrusted layer may widen, and a
// floor that no untrusted layer may narrow. A project's .fence.json can
// add write paths or allowed domains, but it cannot grant itself access a
// system or managed layer never offered, and it cannot silently disable a
// mandatory command denylist. A list field that the trusted layers leave
// empty sets no ceiling, so untrusted layers may fill it freely.
package policy

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/Use-Tusk/fence/internal/config"
	"github.com/Use-Tusk/fence/internal/fenceerr"
)

// Standard layer ranks, lowest precedence first. Session flags (CLI
// overrides) always win ties because they resolve last.
const (
	RankSystem       = 0
	RankManaged      = 1
	RankUser         = 2
	RankProject      = 3
	RankSessionFlags = 4
)

// Layer is one document in the resolution stack.
type Layer struct {
	Name    string
	Rank    int
	Trusted bool
	Doc     *config.Config
}

// Resolved is the output of Resolve: the folded configuration plus whether
// any untrusted layer actually changed anything from the trusted ceiling
// (useful for CLI output and audit logging).
type Resolved struct {
	Config      *config.Config
	Customized  bool
	LayersUsed  []string
}

// Resolve folds layers in ascending rank order using config.Merge, then
// validates the result against the ceiling/floor established by the
// trusted subset. Returns *fenceerr.ConstraintViolation if an untrusted
// layer exceeded its bounds.
func Resolve(layers []Layer) (*Resolved, error) {
	sorted := make([]Layer, len(layers))
	copy(sorted, layers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })

	var merged *config.Config
	var trustedCeiling *config.Config
	names := make([]string, 0, len(sorted))

	for _, l := range sorted {
		if l.Doc == nil {
			continue
		}
		names = append(names, l.Name)
		merged = config.Merge(merged, l.Doc)
		if l.Trusted {
			trustedCeiling = config.Merge(trustedCeiling, l.Doc)
		}
	}

	if merged == nil {
		merged = config.Default()
	}
	if trustedCeiling == nil {
		trustedCeiling = config.Default()
	}

	if err := checkConstraints(trustedCeiling, merged); err != nil {
		return nil, err
	}

	return &Resolved{
		Config:     merged,
		Customized: !equalConfig(merged, trustedCeiling),
		LayersUsed: names,
	}, nil
}

// checkConstraints verifies that merged never exceeds the ceiling
// established by ceiling, and never drops a floor ceiling requires.
func checkConstraints(ceiling, merged *config.Config) error {
	if len(ceiling.Network.AllowedDomains) > 0 {
		if err := subsetOf("network.allowedDomains", merged.Network.AllowedDomains, ceiling.Network.AllowedDomains); err != nil {
			return err
		}
	}
	if len(ceiling.Filesystem.AllowWrite) > 0 {
		if err := pathsWithin("filesystem.allowWrite", merged.Filesystem.AllowWrite, ceiling.Filesystem.AllowWrite); err != nil {
			return err
		}
	}
	if len(ceiling.SSH.AllowedHosts) > 0 {
		if err := subsetOf("ssh.allowedHosts", merged.SSH.AllowedHosts, ceiling.SSH.AllowedHosts); err != nil {
			return err
		}
	}

	// Floor: if a trusted layer requires the default deny list, no
	// untrusted layer gets to turn it off in the merged result.
	if ceiling.Command.UseDefaultDeniedCommands() && !merged.Command.UseDefaultDeniedCommands() {
		return &fenceerr.ConstraintViolation{
			Field:     "command.useDefaults",
			Attempted: "false",
			Required:  "true",
		}
	}

	return nil
}

// subsetOf checks every entry in attempted is present verbatim in allowed,
// or matches one of allowed's wildcard domain patterns.
func subsetOf(field string, attempted, allowed []string) error {
	for _, a := range attempted {
		ok := false
		for _, want := range allowed {
			if a == want || config.MatchesDomain(a, want) {
				ok = true
				break
			}
		}
		if !ok {
			return &fenceerr.ConstraintViolation{
				Field:     field,
				Attempted: a,
				Required:  strings.Join(allowed, ", "),
			}
		}
	}
	return nil
}

// pathsWithin checks every attempted path is equal to, or a descendant of,
// one of the ceiling paths.
func pathsWithin(field string, attempted, ceiling []string) error {
	cleanCeiling := make([]string, len(ceiling))
	for i, c := range ceiling {
		cleanCeiling[i] = filepath.Clean(c)
	}
	for _, a := range attempted {
		clean := filepath.Clean(a)
		ok := false
		for _, c := range cleanCeiling {
			if clean == c || strings.HasPrefix(clean, c+string(filepath.Separator)) {
				ok = true
				break
			}
		}
		if !ok {
			return &fenceerr.ConstraintViolation{
				Field:     field,
				Attempted: a,
				Required:  strings.Join(cleanCeiling, ", "),
			}
		}
	}
	return nil
}

// equalConfig does a cheap structural comparison good enough to flag
// "nothing untrusted changed" for audit purposes; it is not a substitute
// for reflect.DeepEqual semantics on every nested slice ordering.
func equalConfig(a, b *config.Config) bool {
	return strings.Join(a.Network.AllowedDomains, ",") == strings.Join(b.Network.AllowedDomains, ",") &&
		strings.Join(a.Filesystem.AllowWrite, ",") == strings.Join(b.Filesystem.AllowWrite, ",") &&
		a.AllowPty == b.AllowPty
}
