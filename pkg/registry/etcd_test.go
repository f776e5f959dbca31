package registry

import (
	"testing"

	"github.com/riskstream/risk-worker/pkg/config"
)

func TestRegistrationKey(t *testing.T) {
	cfg := config.RegistryConfig{Namespace: "riskstream", Group: "fraud", ServiceName: "risk-worker", Cluster: "default"}
	inst := Instance{ServiceName: "risk-worker", IP: "10.0.0.5", Port: 8000}

	want := "/riskstream/fraud/risk-worker/default/10.0.0.5:8000"
	if got := registrationKey(cfg, inst); got != want {
		t.Fatalf("registrationKey() = %q, want %q", got, want)
	}
}

func TestRegistrationKeyDistinguishesInstancesBySameServiceDifferentPort(t *testing.T) {
	cfg := config.RegistryConfig{Namespace: "ns", Group: "grp", ServiceName: "risk-worker", Cluster: "c1"}
	a := registrationKey(cfg, Instance{IP: "10.0.0.5", Port: 8000})
	b := registrationKey(cfg, Instance{IP: "10.0.0.5", Port: 8001})
	if a == b {
		t.Fatalf("expected distinct keys for distinct ports, got %q for both", a)
	}
}
