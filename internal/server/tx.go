package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ssd-technologies/agentpulse/internal/access"
	"github.com/ssd-technologies/agentpulse/internal/agent"
	"github.com/ssd-technologies/agentpulse/internal/attestation"
	"github.com/ssd-technologies/agentpulse/internal/config"
	"github.com/ssd-technologies/agentpulse/internal/ledger"
	"github.com/ssd-technologies/agentpulse/internal/registry"
)

const ctxSender = "sender"

// AmountRequest is the body of pulse, stake, unstake and burn. Amount is a
// base-10 count of base units.
type AmountRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// ApproveRequest grants Spender an allowance. Spender is a contract name
// ("registry", "burner") or an address.
type ApproveRequest struct {
	Spender string `json:"spender" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

// AttestRequest records a peer attestation about Subject.
type AttestRequest struct {
	Subject  string `json:"subject" binding:"required"`
	Positive *bool  `json:"positive" binding:"required"`
}

// LogView is a committed log as served to clients. (TxHash, LogIndex)
// identifies it.
type LogView struct {
	Seq       uint64         `json:"seq"`
	TxHash    ledger.Hash    `json:"tx_hash"`
	LogIndex  uint           `json:"log_index"`
	Height    uint64         `json:"height"`
	Timestamp uint64         `json:"timestamp"`
	Contract  ledger.Address `json:"contract"`
	Name      string         `json:"name"`
	Event     ledger.Event   `json:"event"`
}

func viewLog(l ledger.Log) LogView {
	return LogView{
		Seq:       l.Seq,
		TxHash:    l.TxHash,
		LogIndex:  l.Index,
		Height:    l.Height,
		Timestamp: l.Timestamp,
		Contract:  l.Contract,
		Name:      l.Name(),
		Event:     l.Event,
	}
}

// TxResponse is the receipt of a committed transaction.
type TxResponse struct {
	TxHash    ledger.Hash    `json:"tx_hash"`
	Sender    ledger.Address `json:"sender"`
	Height    uint64         `json:"height"`
	Timestamp uint64         `json:"timestamp"`
	Logs      []LogView      `json:"logs"`
}

// RevertResponse reports a rejected transaction.
type RevertResponse struct {
	Error   string            `json:"error"`
	Reason  string            `json:"reason"`
	Details map[string]string `json:"details,omitempty"`
}

// signed authenticates the request body and stores the sender address.
func (s *Server) signed() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		if err != nil {
			writeError(c, http.StatusRequestEntityTooLarge, "read body: "+err.Error())
			return
		}
		sender, err := s.verifier.Verify(c.Request, body)
		if errors.Is(err, agent.ErrReplayed) {
			writeError(c, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			writeError(c, http.StatusUnauthorized, err.Error())
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Set(ctxSender, sender)
		c.Next()
	}
}

func bindAmount(c *gin.Context) (*big.Int, bool) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return nil, false
	}
	amt, err := config.ParseAmount(req.Amount)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return amt, true
}

// submit executes fn as the authenticated sender and writes the receipt or
// the revert.
func (s *Server) submit(c *gin.Context, action string, fn func(tx *ledger.Tx) error) {
	sender := c.MustGet(ctxSender).(ledger.Address)
	rcpt, err := s.node.Chain.Execute(sender, fn)
	if err != nil {
		status := statusFor(err)
		s.logger.Info("transaction rejected",
			zap.String("action", action),
			zap.String("sender", sender.Hex()),
			zap.Int("status", status),
			zap.Error(err))
		resp := RevertResponse{Error: err.Error(), Reason: err.Error()}
		var rv *ledger.Revert
		if errors.As(err, &rv) {
			resp.Reason = rv.Reason()
			resp.Details = rv.Details()
		}
		c.AbortWithStatusJSON(status, resp)
		return
	}

	logs := make([]LogView, len(rcpt.Logs))
	for i, l := range rcpt.Logs {
		logs[i] = viewLog(l)
	}
	s.logger.Info("transaction committed",
		zap.String("action", action),
		zap.String("sender", sender.Hex()),
		zap.String("tx", rcpt.TxHash.Hex()),
		zap.Uint64("height", rcpt.Height))
	c.JSON(http.StatusOK, TxResponse{
		TxHash:    rcpt.TxHash,
		Sender:    sender,
		Height:    rcpt.Height,
		Timestamp: rcpt.Timestamp,
		Logs:      logs,
	})
}

// statusFor maps a revert to an HTTP status.
func statusFor(err error) int {
	var rv *ledger.Revert
	switch {
	case errors.Is(err, access.ErrNotOwner), errors.Is(err, access.ErrNotPendingOwner):
		return http.StatusForbidden
	case errors.Is(err, access.ErrPaused), errors.Is(err, access.ErrNotPaused),
		errors.Is(err, attestation.ErrAlreadyAttested),
		errors.Is(err, attestation.ErrMaxAttestationsReached):
		return http.StatusConflict
	case errors.Is(err, registry.ErrStakeLocked):
		return http.StatusLocked
	case errors.As(err, &rv):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleApprove(c *gin.Context) {
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	spender, ok := s.node.Spender(req.Spender)
	if !ok {
		a, err := ledger.ParseAddress(req.Spender)
		if err != nil {
			writeError(c, http.StatusBadRequest, "spender must be a contract name or an address")
			return
		}
		spender = a
	}
	amt, err := config.ParseAmount(req.Amount)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(c, "approve", func(tx *ledger.Tx) error {
		_, err := s.node.Token.Approve(tx, spender, amt)
		return err
	})
}

func (s *Server) handlePulse(c *gin.Context) {
	amt, ok := bindAmount(c)
	if !ok {
		return
	}
	s.submit(c, "pulse", func(tx *ledger.Tx) error {
		return s.node.Registry.Pulse(tx, amt)
	})
}

func (s *Server) handleStakeTx(c *gin.Context) {
	amt, ok := bindAmount(c)
	if !ok {
		return
	}
	s.submit(c, "stake", func(tx *ledger.Tx) error {
		return s.node.Registry.Stake(tx, amt)
	})
}

func (s *Server) handleUnstake(c *gin.Context) {
	amt, ok := bindAmount(c)
	if !ok {
		return
	}
	s.submit(c, "unstake", func(tx *ledger.Tx) error {
		return s.node.Registry.Unstake(tx, amt)
	})
}

func (s *Server) handleAttest(c *gin.Context) {
	var req AttestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	subject, err := ledger.ParseAddress(req.Subject)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(c, "attest", func(tx *ledger.Tx) error {
		return s.node.Attestation.Attest(tx, subject, *req.Positive)
	})
}

func (s *Server) handleBurn(c *gin.Context) {
	amt, ok := bindAmount(c)
	if !ok {
		return
	}
	s.submit(c, "burn", func(tx *ledger.Tx) error {
		return s.node.Burner.BurnWithFee(tx, amt)
	})
}
