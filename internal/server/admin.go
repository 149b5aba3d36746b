package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ssd-technologies/agentpulse/internal/ledger"
)

// AddressRequest carries a single account, for ownership transfers and the
// fee wallet.
type AddressRequest struct {
	Address string `json:"address" binding:"required"`
}

// TTLRequest sets the registry liveness window in seconds.
type TTLRequest struct {
	TTL *uint64 `json:"ttl" binding:"required"`
}

// FeeBpsRequest sets the burner fee rate. Zero is a valid rate.
type FeeBpsRequest struct {
	FeeBps *uint64 `json:"fee_bps" binding:"required"`
}

// owned is the ownership surface every owned contract shares.
type owned interface {
	TransferOwnership(tx *ledger.Tx, newOwner ledger.Address) error
	AcceptOwnership(tx *ledger.Tx) error
}

// pausable is the pause switch of the registry and the burner.
type pausable interface {
	Pause(tx *ledger.Tx) error
	Unpause(tx *ledger.Tx) error
}

// adminRoutes registers the owner-only calls under g. Every route runs as
// the signing account; the contracts decide whether it is the owner.
func (s *Server) adminRoutes(g *gin.RouterGroup) {
	n := s.node
	for name, c := range map[string]owned{"token": n.Token, "registry": n.Registry, "burner": n.Burner} {
		g.POST("/"+name+"/transfer-ownership", s.handleTransferOwnership(name, c))
		g.POST("/"+name+"/accept-ownership", s.handleAcceptOwnership(name, c))
	}
	for name, c := range map[string]pausable{"registry": n.Registry, "burner": n.Burner} {
		g.POST("/"+name+"/pause", s.handlePause(name, c, true))
		g.POST("/"+name+"/unpause", s.handlePause(name, c, false))
	}
	g.POST("/registry/ttl", s.handleSetTTL)
	g.POST("/registry/min-pulse", s.handleSetMinPulse)
	g.POST("/burner/fee-wallet", s.handleSetFeeWallet)
	g.POST("/burner/fee-bps", s.handleSetFeeBps)
	g.POST("/burner/min-burn", s.handleSetMinBurn)
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeError(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func bindAddress(c *gin.Context) (ledger.Address, bool) {
	var req AddressRequest
	if !bindJSON(c, &req) {
		return ledger.ZeroAddress, false
	}
	a, err := ledger.ParseAddress(req.Address)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return ledger.ZeroAddress, false
	}
	return a, true
}

func (s *Server) handleTransferOwnership(name string, ct owned) gin.HandlerFunc {
	return func(c *gin.Context) {
		to, ok := bindAddress(c)
		if !ok {
			return
		}
		s.submit(c, name+".transferOwnership", func(tx *ledger.Tx) error {
			return ct.TransferOwnership(tx, to)
		})
	}
}

func (s *Server) handleAcceptOwnership(name string, ct owned) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.submit(c, name+".acceptOwnership", ct.AcceptOwnership)
	}
}

func (s *Server) handlePause(name string, ct pausable, pause bool) gin.HandlerFunc {
	if pause {
		return func(c *gin.Context) { s.submit(c, name+".pause", ct.Pause) }
	}
	return func(c *gin.Context) { s.submit(c, name+".unpause", ct.Unpause) }
}

func (s *Server) handleSetTTL(c *gin.Context) {
	var req TTLRequest
	if !bindJSON(c, &req) {
		return
	}
	s.submit(c, "registry.setTTL", func(tx *ledger.Tx) error {
		return s.node.Registry.SetTTL(tx, *req.TTL)
	})
}

func (s *Server) handleSetMinPulse(c *gin.Context) {
	amt, ok := bindAmount(c)
	if !ok {
		return
	}
	s.submit(c, "registry.setMinPulseAmount", func(tx *ledger.Tx) error {
		return s.node.Registry.SetMinPulseAmount(tx, amt)
	})
}

func (s *Server) handleSetFeeWallet(c *gin.Context) {
	wallet, ok := bindAddress(c)
	if !ok {
		return
	}
	s.submit(c, "burner.setFeeWallet", func(tx *ledger.Tx) error {
		return s.node.Burner.SetFeeWallet(tx, wallet)
	})
}

func (s *Server) handleSetFeeBps(c *gin.Context) {
	var req FeeBpsRequest
	if !bindJSON(c, &req) {
		return
	}
	s.submit(c, "burner.setFeeBps", func(tx *ledger.Tx) error {
		return s.node.Burner.SetFeeBps(tx, *req.FeeBps)
	})
}

func (s *Server) handleSetMinBurn(c *gin.Context) {
	amt, ok := bindAmount(c)
	if !ok {
		return
	}
	s.submit(c, "burner.setMinBurn", func(tx *ledger.Tx) error {
		return s.node.Burner.SetMinBurn(tx, amt)
	})
}
