package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/procurehub/purchase-approval-backend/interfaces"
)

// Client is a typed HTTP client for the purchase approval API. It handles
// header-based identification, request encoding, and error unwrapping.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an API client for the given base URL (e.g.
// "http://localhost:8080"). Timeout defaults to 30 seconds when omitted.
func NewClient(baseURL string, timeout ...time.Duration) *Client {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("request failed with code %d: %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("request failed with code %d: %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// CreateRequest submits a new purchase request on behalf of requesterEmail.
func (c *Client) CreateRequest(ctx context.Context, requesterEmail string, body CreateRequestBody) (*interfaces.PurchaseRequest, error) {
	var out interfaces.PurchaseRequest
	err := c.do(ctx, http.MethodPost, "/api/purchase-requests",
		map[string]string{RequesterEmailHeader: requesterEmail}, body, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRequests returns the requester's purchase requests, oldest first.
func (c *Client) ListRequests(ctx context.Context, requesterEmail string) ([]*interfaces.PurchaseRequest, error) {
	var out []*interfaces.PurchaseRequest
	err := c.do(ctx, http.MethodGet, "/api/purchase-requests",
		map[string]string{RequesterEmailHeader: requesterEmail}, nil, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetRequest returns the owner's detailed view of one request.
func (c *Client) GetRequest(ctx context.Context, requesterEmail string, id interfaces.RequestID) (*RequestDetailResponse, error) {
	var out RequestDetailResponse
	err := c.do(ctx, http.MethodGet, "/api/purchase-requests/"+url.PathEscape(id.String()),
		map[string]string{RequesterEmailHeader: requesterEmail}, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetApprovalInfo resolves an approval link: it returns the request under
// review together with the caller's approver record, and triggers OTP issuance
// while the record is still awaiting verification.
func (c *Client) GetApprovalInfo(ctx context.Context, id interfaces.RequestID, token interfaces.ApproverToken) (*ApprovalInfoResponse, error) {
	var out ApprovalInfoResponse
	path := fmt.Sprintf("/api/approvals/info?purchase_request_id=%s&approver_token=%s",
		url.QueryEscape(id.String()), url.QueryEscape(token.String()))
	err := c.do(ctx, http.MethodGet, path, nil, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateOtp submits the one-time code for the approver identified by token.
func (c *Client) ValidateOtp(ctx context.Context, id interfaces.RequestID, token interfaces.ApproverToken, otp string) (*ValidateOtpResponse, error) {
	var out ValidateOtpResponse
	path := "/api/purchase-requests/" + url.PathEscape(id.String()) + "/validate-otp"
	err := c.do(ctx, http.MethodPost, path,
		map[string]string{ApproverTokenHeader: token.String()}, ValidateOtpBody{Otp: otp}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitDecision records the approver's decision. signatureName is required
// when approving.
func (c *Client) SubmitDecision(ctx context.Context, id interfaces.RequestID, token interfaces.ApproverToken, decision interfaces.Decision, signatureName string) (*DecisionResponse, error) {
	var out DecisionResponse
	path := "/api/purchase-requests/" + url.PathEscape(id.String()) + "/decision"
	err := c.do(ctx, http.MethodPost, path,
		map[string]string{ApproverTokenHeader: token.String()},
		DecisionBody{Decision: string(decision), SignatureName: signatureName}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkPdfGenerated records the evidence document hand-off for a fully
// approved request.
func (c *Client) MarkPdfGenerated(ctx context.Context, id interfaces.RequestID, evidenceKey string) (*interfaces.PurchaseRequest, error) {
	var out interfaces.PurchaseRequest
	path := "/api/purchase-requests/" + url.PathEscape(id.String()) + "/pdf-generated"
	err := c.do(ctx, http.MethodPost, path, nil, PdfGeneratedBody{PdfEvidenceKey: evidenceKey}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MockMails returns the recorded outbound mails and approval links.
func (c *Client) MockMails(ctx context.Context) (*MockMailResponse, error) {
	var out MockMailResponse
	err := c.do(ctx, http.MethodGet, "/api/mock-mail", nil, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DebugOtp returns the pending one-time code for a token. Requires the server
// to run with the debug API enabled.
func (c *Client) DebugOtp(ctx context.Context, token interfaces.ApproverToken) (*DebugOtpResponse, error) {
	var out DebugOtpResponse
	path := "/api/debug/otp?approver_token=" + url.QueryEscape(token.String())
	err := c.do(ctx, http.MethodGet, path, nil, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
