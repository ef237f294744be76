package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartstay/booking-core/internal/config"
	"github.com/smartstay/booking-core/internal/models"
)

// GatewayService talks to the online payment gateway's orders API
type GatewayService struct {
	config *config.PaymentConfig
	logger *logrus.Logger
	client *http.Client
}

// gatewayOrderRequest is the body of POST {api}/orders
type gatewayOrderRequest struct {
	Amount   int64             `json:"amount"` // minor units
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// gatewayErrorResponse is the gateway's error envelope
type gatewayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// NewGatewayService creates a new gateway service
func NewGatewayService(cfg *config.PaymentConfig, logger *logrus.Logger) *GatewayService {
	return &GatewayService{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// KeyID is the public key the checkout widget is opened with
func (s *GatewayService) KeyID() string {
	return s.config.KeyID
}

// Currency is the currency orders are created in
func (s *GatewayService) Currency() string {
	return s.config.Currency
}

// BusinessName is shown on the checkout widget
func (s *GatewayService) BusinessName() string {
	return s.config.BusinessName
}

// CreateOrder opens an order for amountMinor on the gateway
func (s *GatewayService) CreateOrder(ctx context.Context, amountMinor int64, receipt string, notes map[string]string) (*models.GatewayOrder, error) {
	if s.config.KeyID == "" || s.config.KeySecret == "" {
		return nil, fmt.Errorf("payment gateway not configured: missing key credentials")
	}
	if amountMinor <= 0 {
		return nil, fmt.Errorf("invalid order amount: %d", amountMinor)
	}

	request := &gatewayOrderRequest{
		Amount:   amountMinor,
		Currency: s.config.Currency,
		Receipt:  receipt,
		Notes:    notes,
	}

	jsonBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL+"/orders", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(s.config.KeyID, s.config.KeySecret)

	s.logger.WithFields(logrus.Fields{
		"receipt":  receipt,
		"amount":   amountMinor,
		"currency": s.config.Currency,
	}).Info("Creating gateway order")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.WithError(err).Error("Failed to call gateway orders endpoint")
		return nil, fmt.Errorf("failed to call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var gwErr gatewayErrorResponse
		if json.Unmarshal(body, &gwErr) == nil && gwErr.Error.Description != "" {
			return nil, fmt.Errorf("payment gateway returned status %d: %s", resp.StatusCode, gwErr.Error.Description)
		}
		return nil, fmt.Errorf("payment gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	var order models.GatewayOrder
	if err := json.Unmarshal(body, &order); err != nil {
		s.logger.WithFields(logrus.Fields{
			"body":  string(body),
			"error": err.Error(),
		}).Error("Failed to parse gateway order response")
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if order.ID == "" {
		return nil, fmt.Errorf("payment gateway returned no order id")
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"receipt":  receipt,
	}).Info("Gateway order created")

	return &order, nil
}

// VerifySignature checks a checkout callback signature:
// hex(HMAC-SHA256(order_id + "|" + payment_id, key_secret))
func (s *GatewayService) VerifySignature(cb models.GatewayCallback) bool {
	if s.config.KeySecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.config.KeySecret))
	mac.Write([]byte(cb.OrderID + "|" + cb.PaymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(cb.Signature))
}
