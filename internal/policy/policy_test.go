package policy

import (
	"errors"
	"testing"

	"github.com/Use-Tusk/fence/internal/config"
	"github.com/Use-Tusk/fence/internal/fenceerr"
)

func TestResolveMergesInRankOrder(t *testing.T) {
	layers := []Layer{
		{Name: "user", Rank: RankUser, Trusted: false, Doc: &config.Config{
			Network: config.NetworkConfig{AllowedDomains: []string{"example.com"}},
		}},
		{Name: "system", Rank: RankSystem, Trusted: true, Doc: &config.Config{
			Network: config.NetworkConfig{AllowedDomains: []string{"example.com", "registry.npmjs.org"}},
		}},
	}

	resolved, err := Resolve(layers)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(resolved.Config.Network.AllowedDomains) != 2 {
		t.Errorf("AllowedDomains = %v, want 2 entries", resolved.Config.Network.AllowedDomains)
	}
	if len(resolved.LayersUsed) != 2 || resolved.LayersUsed[0] != "system" {
		t.Errorf("LayersUsed = %v, want system first", resolved.LayersUsed)
	}
}

func TestResolveRejectsDomainCeilingViolation(t *testing.T) {
	layers := []Layer{
		{Name: "system", Rank: RankSystem, Trusted: true, Doc: &config.Config{
			Network: config.NetworkConfig{AllowedDomains: []string{"example.com"}},
		}},
		{Name: "project", Rank: RankProject, Trusted: false, Doc: &config.Config{
			Network: config.NetworkConfig{AllowedDomains: []string{"evil.example.net"}},
		}},
	}

	_, err := Resolve(layers)
	var cv *fenceerr.ConstraintViolation
	if !errors.As(err, &cv) {
		t.Fatalf("Resolve() error = %v, want *fenceerr.ConstraintViolation", err)
	}
	if cv.Field != "network.allowedDomains" {
		t.Errorf("Field = %q, want network.allowedDomains", cv.Field)
	}
}

func TestResolveAllowsUntrustedWildcardSubdomain(t *testing.T) {
	layers := []Layer{
		{Name: "system", Rank: RankSystem, Trusted: true, Doc: &config.Config{
			Network: config.NetworkConfig{AllowedDomains: []string{"*.example.com"}},
		}},
		{Name: "project", Rank: RankProject, Trusted: false, Doc: &config.Config{
			Network: config.NetworkConfig{AllowedDomains: []string{"api.example.com"}},
		}},
	}

	if _, err := Resolve(layers); err != nil {
		t.Fatalf("Resolve() error = %v, want nil", err)
	}
}

func TestResolveRejectsWritePathEscape(t *testing.T) {
	layers := []Layer{
		{Name: "managed", Rank: RankManaged, Trusted: true, Doc: &config.Config{
			Filesystem: config.FilesystemConfig{AllowWrite: []string{"/workspace"}},
		}},
		{Name: "user", Rank: RankUser, Trusted: false, Doc: &config.Config{
			Filesystem: config.FilesystemConfig{AllowWrite: []string{"/etc"}},
		}},
	}

	_, err := Resolve(layers)
	var cv *fenceerr.ConstraintViolation
	if !errors.As(err, &cv) {
		t.Fatalf("Resolve() error = %v, want *fenceerr.ConstraintViolation", err)
	}
}

func TestResolveRejectsDisablingDefaultDeniedCommands(t *testing.T) {
	no := false
	layers := []Layer{
		{Name: "system", Rank: RankSystem, Trusted: true, Doc: config.Default()},
		{Name: "user", Rank: RankUser, Trusted: false, Doc: &config.Config{
			Command: config.CommandConfig{UseDefaults: &no},
		}},
	}

	_, err := Resolve(layers)
	var cv *fenceerr.ConstraintViolation
	if !errors.As(err, &cv) {
		t.Fatalf("Resolve() error = %v, want *fenceerr.ConstraintViolation", err)
	}
	if cv.Field != "command.useDefaults" {
		t.Errorf("Field = %q, want command.useDefaults", cv.Field)
	}
}

func TestResolveEmptyLayersReturnsDefault(t *testing.T) {
	resolved, err := Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve(nil) error = %v", err)
	}
	if resolved.Config == nil {
		t.Fatal("Resolve(nil).Config is nil")
	}
}
