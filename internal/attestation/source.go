package attestation

import "github.com/ssd-technologies/agentpulse/internal/ledger"

// ReliabilitySource is the read-only registry surface the attestation layer
// depends on. Errors are propagated to the caller unchanged.
type ReliabilitySource interface {
	IsAlive(agent ledger.Address) (bool, error)
	ReliabilityScore(agent ledger.Address) (uint64, error)
}

// ViewReader is satisfied by *registry.Registry.
type ViewReader interface {
	IsAlive(agent ledger.Address) bool
	GetReliabilityScore(agent ledger.Address) uint64
}

// Views adapts a non-failing view reader into a ReliabilitySource.
func Views(r ViewReader) ReliabilitySource {
	return viewSource{r}
}

type viewSource struct {
	r ViewReader
}

func (v viewSource) IsAlive(agent ledger.Address) (bool, error) {
	return v.r.IsAlive(agent), nil
}

func (v viewSource) ReliabilityScore(agent ledger.Address) (uint64, error) {
	return v.r.GetReliabilityScore(agent), nil
}
