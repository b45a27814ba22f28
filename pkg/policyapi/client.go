// Package policyapi is a client for the insurer's ESB policy registry.
package policyapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/sells-group/fitment-triage/internal/model"
	"github.com/sells-group/fitment-triage/internal/resilience"
)

// ErrNoPolicyDetail is returned when the registry knows nothing about a policy.
var ErrNoPolicyDetail = eris.New("policyapi: no policy detail")

// Client looks up active policies and insured vehicles.
type Client struct {
	baseURL string
	http    *http.Client
	newID   func() string
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the authenticated HTTP client (for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient authenticates against {baseURL}/token with the client
// credentials grant.
func NewClient(baseURL, clientID, clientSecret, scope string, timeout time.Duration, opts ...Option) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: baseURL,
		newID:   func() string { return "ava-" + uuid.New().String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		cc := clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     baseURL + "/token",
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		if scope != "" {
			cc.Scopes = []string{scope}
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})
		c.http = cc.Client(ctx)
		c.http.Timeout = timeout
	}
	return c
}

// APIError is a non-200 registry response.
type APIError struct {
	StatusCode    int
	Op            string
	CorrelationID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("policyapi: %s: status %d (correlation %s)", e.Op, e.StatusCode, e.CorrelationID)
}

// StatusCode extracts the HTTP status from a registry error, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func (c *Client) get(ctx context.Context, op, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return eris.Wrapf(err, "policyapi: %s: create request", op)
	}
	cid := c.newID()
	req.Header.Set("correlationId", cid)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "policyapi: %s", op)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrapf(err, "policyapi: %s: read response", op)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Op: op, CorrelationID: cid}
		if resilience.RetryableStatus(resp.StatusCode) {
			return resilience.Transient(apiErr, resp.StatusCode)
		}
		return apiErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "policyapi: %s: unmarshal response", op)
	}
	zap.L().Debug("policyapi: call ok", zap.String("op", op), zap.String("correlation_id", cid))
	return nil
}

type personDetails struct {
	ClientDetails []struct {
		ReferenceNumber   flexString `json:"referenceNumber"`
		StatusDescription string     `json:"statusDescription"`
	} `json:"clientDetails"`
}

// ActivePolicies returns the reference numbers of policies held by the
// person whose status description mentions "active".
func (c *Client) ActivePolicies(ctx context.Context, idNumber string) ([]string, error) {
	reqURL := c.baseURL + "/esb/api/v2/persons/" + url.PathEscape(idNumber) + "/details?type=IDNUMBER"

	var pd personDetails
	if err := c.get(ctx, "person details", reqURL, &pd); err != nil {
		return nil, err
	}

	var out []string
	for _, cd := range pd.ClientDetails {
		if strings.Contains(strings.ToLower(cd.StatusDescription), "active") && cd.ReferenceNumber != "" {
			out = append(out, string(cd.ReferenceNumber))
		}
	}
	return out, nil
}

type vehicleDetail struct {
	Year                   flexString `json:"year"`
	Make                   string     `json:"make"`
	Model                  string     `json:"model"`
	Colour                 string     `json:"colour"`
	RegistrationNumber     string     `json:"registrationNumber"`
	VINNumber              string     `json:"vinNumber"`
	EngineNumber           string     `json:"engineNumber"`
	RiskItemSequenceNumber flexString `json:"riskItemSequenceNumber"`
	CoverTypeDescription   string     `json:"coverTypeDescription"`
	StatusDescription      string     `json:"statusDescription"`
	VehicleActiveIndicator flexString `json:"vehicleActiveIndicator"`
}

type policyDetail struct {
	PolicyDetailResponse []struct {
		VehicleDetailsArray []vehicleDetail `json:"vehicleDetailsArray"`
	} `json:"policyDetailResponse"`
}

// Vehicles returns the policy's vehicles keyed by risk item sequence
// number. Vehicles with a blank status are skipped.
func (c *Client) Vehicles(ctx context.Context, policyNumber string) (map[int]model.CandidateVehicle, error) {
	reqURL := c.baseURL + "/esb/api/v1/policies/" + url.PathEscape(policyNumber) + "/detail?filter=vehicle"

	var pd policyDetail
	if err := c.get(ctx, "policy detail", reqURL, &pd); err != nil {
		return nil, err
	}
	if len(pd.PolicyDetailResponse) == 0 {
		return nil, eris.Wrapf(ErrNoPolicyDetail, "policy %s", policyNumber)
	}

	out := make(map[int]model.CandidateVehicle)
	for _, v := range pd.PolicyDetailResponse[0].VehicleDetailsArray {
		if strings.TrimSpace(v.StatusDescription) == "" {
			continue
		}
		seq, err := strconv.Atoi(strings.TrimSpace(string(v.RiskItemSequenceNumber)))
		if err != nil {
			return nil, eris.Wrapf(err, "policyapi: policy %s: bad sequence number %q", policyNumber, v.RiskItemSequenceNumber)
		}
		out[seq] = model.CandidateVehicle{
			Year:               strings.TrimSpace(string(v.Year)),
			Make:               strings.TrimSpace(v.Make),
			Model:              strings.TrimSpace(v.Model),
			Colour:             strings.TrimSpace(v.Colour),
			RegistrationNumber: strings.TrimSpace(v.RegistrationNumber),
			VINNumber:          strings.TrimSpace(v.VINNumber),
			EngineNumber:       strings.TrimSpace(v.EngineNumber),
			SequenceNumber:     seq,
			CoverType:          strings.TrimSpace(v.CoverTypeDescription),
			Status:             strings.TrimSpace(v.StatusDescription),
			Active:             truthy(string(v.VehicleActiveIndicator)),
		}
	}
	return out, nil
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "true", "1", "active":
		return true
	}
	return false
}

// flexString accepts JSON strings, numbers and booleans.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	*f = flexString(strings.Trim(string(b), `"`))
	return nil
}
