package netproxy

import (
	"os"
	"testing"
)

func TestGenerateCAWritesLoadableCert(t *testing.T) {
	dir := t.TempDir()

	ca, err := GenerateCA(dir)
	if err != nil {
		t.Fatalf("GenerateCA() error = %v", err)
	}

	if ca.TLSCert.Leaf == nil {
		t.Fatal("expected TLSCert.Leaf to be populated")
	}
	if !ca.TLSCert.Leaf.IsCA {
		t.Error("generated certificate is not marked as a CA")
	}

	data, err := os.ReadFile(ca.PEMPath)
	if err != nil {
		t.Fatalf("read PEM file: %v", err)
	}
	if len(data) == 0 {
		t.Error("PEM file is empty")
	}
}

func TestGeneratedCAEnvCoversEveryKnownVar(t *testing.T) {
	ca := &GeneratedCA{PEMPath: "/tmp/fence-mitm-ca.pem"}
	env := ca.Env()

	for _, k := range mitmCAEnvVars {
		if env[k] != ca.PEMPath {
			t.Errorf("env[%q] = %q, want %q", k, env[k], ca.PEMPath)
		}
	}
	if len(env) != len(mitmCAEnvVars) {
		t.Errorf("Env() returned %d vars, want %d", len(env), len(mitmCAEnvVars))
	}
}
