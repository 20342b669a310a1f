package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"posed/internal/domain"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type challengeRequest struct {
	ChallengeID   string         `json:"challenge_id"`
	EpochID       uint64         `json:"epoch_id"`
	NodeID        string         `json:"node_id"`
	ChallengeType string         `json:"challenge_type"`
	Nonce         string         `json:"nonce"`
	RandSeed      string         `json:"rand_seed"`
	IssuedAtMs    uint64         `json:"issued_at_ms"`
	DeadlineMs    uint64         `json:"deadline_ms"`
	QuerySpec     map[string]any `json:"query_spec"`
	ChallengerID  string         `json:"challenger_id"`
	ChallengerSig string         `json:"challenger_sig"`
}

type receiptRequest struct {
	ChallengeID  string         `json:"challenge_id"`
	NodeID       string         `json:"node_id"`
	ResponseAtMs uint64         `json:"response_at_ms"`
	ResponseBody map[string]any `json:"response_body"`
	NodeSig      string         `json:"node_sig"`
}

type verifyRequest struct {
	Challenge challengeRequest `json:"challenge"`
	Receipt   receiptRequest   `json:"receipt"`
}

type envelopeRequest struct {
	SrcChainID  uint64 `json:"src_chain_id"`
	DstChainID  uint64 `json:"dst_chain_id"`
	ChannelID   string `json:"channel_id"`
	Nonce       uint64 `json:"nonce"`
	PayloadHash string `json:"payload_hash"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleVerifyReceipt(c *gin.Context) {
	if !s.enforceRateLimit(c, "receipts:verify") {
		return
	}
	if s.verifyUC == nil {
		writeError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "receipt verifier not configured")
		return
	}
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body")
		return
	}
	ch, rc, err := decodeVerifyRequest(req)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}

	verdict, err := s.verifyUC.Execute(c.Request.Context(), ch, rc)
	if err != nil {
		s.log.Error("verify receipt", zap.Error(err))
		if errors.Is(err, domain.ErrRegistryUnavailable) {
			writeError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "nonce registry unavailable")
			return
		}
		writeError(c, http.StatusInternalServerError, "INTERNAL", "verification failed")
		return
	}
	c.JSON(http.StatusOK, verdict)
}

func (s *Server) handleValidateEnvelope(c *gin.Context) {
	s.adjudicateEnvelope(c, false)
}

func (s *Server) handleAcceptEnvelope(c *gin.Context) {
	s.adjudicateEnvelope(c, true)
}

func (s *Server) adjudicateEnvelope(c *gin.Context, commit bool) {
	if !s.enforceRateLimit(c, "envelopes:adjudicate") {
		return
	}
	if s.guard == nil {
		writeError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "replay guard not configured")
		return
	}
	var req envelopeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body")
		return
	}
	env, err := decodeEnvelope(req)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}

	var check domain.ReplayCheck
	if commit {
		check, err = s.guard.Accept(c.Request.Context(), env)
	} else {
		check, err = s.guard.Validate(c.Request.Context(), env)
	}
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}
	c.JSON(http.StatusOK, check)
}

func decodeVerifyRequest(req verifyRequest) (domain.ChallengeMessage, domain.ReceiptMessage, error) {
	ch, err := decodeChallenge(req.Challenge)
	if err != nil {
		return domain.ChallengeMessage{}, domain.ReceiptMessage{}, err
	}
	rc, err := decodeReceipt(req.Receipt)
	if err != nil {
		return domain.ChallengeMessage{}, domain.ReceiptMessage{}, err
	}
	return ch, rc, nil
}

func decodeChallenge(req challengeRequest) (domain.ChallengeMessage, error) {
	challengeType := domain.ChallengeType(req.ChallengeType)
	if !challengeType.Valid() {
		return domain.ChallengeMessage{}, fmt.Errorf("%w: %q", domain.ErrInvalidChallengeType, req.ChallengeType)
	}
	challengeID, err := parseField("challenge.challenge_id", req.ChallengeID)
	if err != nil {
		return domain.ChallengeMessage{}, err
	}
	nodeID, err := parseField("challenge.node_id", req.NodeID)
	if err != nil {
		return domain.ChallengeMessage{}, err
	}
	nonce, err := parseField("challenge.nonce", req.Nonce)
	if err != nil {
		return domain.ChallengeMessage{}, err
	}
	randSeed, err := parseField("challenge.rand_seed", req.RandSeed)
	if err != nil {
		return domain.ChallengeMessage{}, err
	}
	challengerID, err := parseField("challenge.challenger_id", req.ChallengerID)
	if err != nil {
		return domain.ChallengeMessage{}, err
	}
	return domain.ChallengeMessage{
		ChallengeID:   challengeID,
		EpochID:       req.EpochID,
		NodeID:        nodeID,
		Type:          challengeType,
		Nonce:         nonce,
		RandSeed:      randSeed,
		IssuedAtMs:    req.IssuedAtMs,
		DeadlineMs:    req.DeadlineMs,
		QuerySpec:     req.QuerySpec,
		ChallengerID:  challengerID,
		ChallengerSig: req.ChallengerSig,
	}, nil
}

func decodeReceipt(req receiptRequest) (domain.ReceiptMessage, error) {
	challengeID, err := parseField("receipt.challenge_id", req.ChallengeID)
	if err != nil {
		return domain.ReceiptMessage{}, err
	}
	nodeID, err := parseField("receipt.node_id", req.NodeID)
	if err != nil {
		return domain.ReceiptMessage{}, err
	}
	return domain.ReceiptMessage{
		ChallengeID:  challengeID,
		NodeID:       nodeID,
		ResponseAtMs: req.ResponseAtMs,
		ResponseBody: req.ResponseBody,
		NodeSig:      req.NodeSig,
	}, nil
}

func decodeEnvelope(req envelopeRequest) (domain.CrossLayerEnvelope, error) {
	channelID, err := parseField("channel_id", req.ChannelID)
	if err != nil {
		return domain.CrossLayerEnvelope{}, err
	}
	payloadHash, err := parseField("payload_hash", req.PayloadHash)
	if err != nil {
		return domain.CrossLayerEnvelope{}, err
	}
	return domain.CrossLayerEnvelope{
		SrcChainID:  req.SrcChainID,
		DstChainID:  req.DstChainID,
		ChannelID:   channelID,
		Nonce:       req.Nonce,
		PayloadHash: payloadHash,
	}, nil
}

func parseField(name, value string) (domain.Hex32, error) {
	parsed, err := domain.ParseHex32(value)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return parsed, nil
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}
