package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ssd-technologies/agentpulse/internal/attestation"
	"github.com/ssd-technologies/agentpulse/internal/ledger"
	"github.com/ssd-technologies/agentpulse/internal/registry"
	"github.com/ssd-technologies/agentpulse/internal/storage"
)

// AliveResponse carries both field spellings liveness clients look for.
type AliveResponse struct {
	Address            string `json:"address"`
	IsAlive            bool   `json:"isAlive"`
	Alive              bool   `json:"alive"`
	LastPulseTimestamp int64  `json:"lastPulseTimestamp"`
	LastPulse          int64  `json:"lastPulse"`
	Streak             int64  `json:"streak"`
	StreakCount        int64  `json:"streakCount"`
	TTL                uint64 `json:"ttl"`
	Staleness          uint64 `json:"staleness"`
	Source             string `json:"source"`
}

// ReliabilityResponse is the score of one agent.
type ReliabilityResponse struct {
	Address   string             `json:"address"`
	Alive     bool               `json:"alive"`
	Score     uint64             `json:"score"`
	Tier      registry.Tier      `json:"tier"`
	Verified  bool               `json:"verified"`
	Breakdown registry.Breakdown `json:"breakdown"`
}

// StakeResponse is the stake position of one agent.
type StakeResponse struct {
	Address    string `json:"address"`
	Amount     string `json:"amount"`
	StartTime  uint64 `json:"startTime"`
	UnlockTime uint64 `json:"unlockTime"`
	Locked     bool   `json:"locked"`
}

// AttestationsResponse summarizes peer attestations about one agent.
type AttestationsResponse struct {
	Address        string          `json:"address"`
	PositiveWeight uint64          `json:"positiveWeight"`
	NegativeWeight uint64          `json:"negativeWeight"`
	NetScore       string          `json:"netScore"`
	Recent         []storage.Event `json:"recent"`
}

// RegistryResponse describes the deployed contracts and their parameters.
type RegistryResponse struct {
	Contracts      map[string]ledger.Address `json:"contracts"`
	TTL            uint64                    `json:"ttl"`
	MinPulseAmount string                    `json:"minPulseAmount"`
	StakeLockup    uint64                    `json:"stakeLockup"`
	Paused         bool                      `json:"paused"`
	AgentCount     int                       `json:"agentCount"`
	Agents         []ledger.Address          `json:"agents"`
	FeeBps         uint64                    `json:"feeBps"`
	MinBurn        string                    `json:"minBurn"`
	FeeWallet      ledger.Address            `json:"feeWallet"`
	Height         uint64                    `json:"height"`
}

func parseAgent(c *gin.Context) (ledger.Address, bool) {
	addr, err := ledger.ParseAddress(c.Param("address"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return ledger.ZeroAddress, false
	}
	return addr, true
}

func (s *Server) handleAlive(c *gin.Context) {
	addr, ok := parseAgent(c)
	if !ok {
		return
	}
	v, err := s.ix.Lookup(c.Request.Context(), addr)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "lookup agent: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, AliveResponse{
		Address:            addr.Hex(),
		IsAlive:            v.Alive,
		Alive:              v.Alive,
		LastPulseTimestamp: v.LastPulseAt,
		LastPulse:          v.LastPulseAt,
		Streak:             v.Streak,
		StreakCount:        v.Streak,
		TTL:                v.TTL,
		Staleness:          v.Staleness,
		Source:             v.Source,
	})
}

func (s *Server) handleReliability(c *gin.Context) {
	addr, ok := parseAgent(c)
	if !ok {
		return
	}
	reg := s.node.Registry
	resp := ledger.Read(s.node.Chain, func() ReliabilityResponse {
		b := reg.ScoreBreakdown(addr)
		return ReliabilityResponse{
			Address:   addr.Hex(),
			Alive:     reg.IsAlive(addr),
			Score:     b.Total,
			Tier:      registry.TierFor(b.Total),
			Verified:  reg.IsVerifiedAgent(addr),
			Breakdown: b,
		}
	})
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStake(c *gin.Context) {
	addr, ok := parseAgent(c)
	if !ok {
		return
	}
	resp := ledger.Read(s.node.Chain, func() StakeResponse {
		rec := s.node.Registry.StakeRecord(addr)
		return StakeResponse{
			Address:    addr.Hex(),
			Amount:     rec.StakedAmount.String(),
			StartTime:  rec.StakeStartTime,
			UnlockTime: rec.StakeUnlockTime,
			Locked:     rec.StakedAmount.Sign() > 0 && s.node.Chain.Now() < rec.StakeUnlockTime,
		}
	})
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAttestations(c *gin.Context) {
	addr, ok := parseAgent(c)
	if !ok {
		return
	}
	limit := 20
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 || n > 500 {
			writeError(c, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	att := s.node.Attestation
	resp := ledger.Read(s.node.Chain, func() AttestationsResponse {
		return AttestationsResponse{
			Address:        addr.Hex(),
			PositiveWeight: att.PositiveWeight(addr),
			NegativeWeight: att.NegativeWeight(addr),
			NetScore:       att.GetNetAttestationScore(addr).String(),
			Recent:         []storage.Event{},
		}
	})

	name := attestation.AttestationSubmitted{}.EventName()
	events, err := s.db.ListEventsByName(c.Request.Context(), addr.Hex(), att.Address().Hex(), name, limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "list events: "+err.Error())
		return
	}
	resp.Recent = append(resp.Recent, events...)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRegistry(c *gin.Context) {
	reg, b := s.node.Registry, s.node.Burner
	resp := ledger.Read(s.node.Chain, func() RegistryResponse {
		return RegistryResponse{
			Contracts:      s.node.Contracts(),
			TTL:            reg.TTL(),
			MinPulseAmount: reg.MinPulseAmount().String(),
			StakeLockup:    reg.StakeLockup(),
			Paused:         reg.Paused(),
			AgentCount:     reg.AgentCount(),
			Agents:         reg.Agents(),
			FeeBps:         b.FeeBps(),
			MinBurn:        b.MinBurn().String(),
			FeeWallet:      b.FeeWallet(),
		}
	})
	resp.Height = s.node.Chain.Height()
	c.JSON(http.StatusOK, resp)
}
