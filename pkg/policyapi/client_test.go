package policyapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fitment-triage/internal/resilience"
)

// newTestServer serves the token endpoint plus the given API handler.
func newTestServer(t *testing.T, api http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var tokens int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
			assert.Equal(t, "esb-client", r.Form.Get("client_id"))
			assert.Equal(t, "esb-secret", r.Form.Get("client_secret"))
			assert.Equal(t, "esb.read", r.Form.Get("scope"))
			atomic.AddInt32(&tokens, 1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"kong-token","token_type":"Bearer","expires_in":3600}`))
			return
		}
		assert.Equal(t, "Bearer kong-token", r.Header.Get("Authorization"))
		assert.True(t, strings.HasPrefix(r.Header.Get("correlationId"), "ava-"), "correlation id header")
		api(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "esb-client", "esb-secret", "esb.read", 5*time.Second), &tokens
}

func TestActivePolicies(t *testing.T) {
	t.Parallel()

	c, tokens := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/esb/api/v2/persons/8001015009087/details", r.URL.Path)
		assert.Equal(t, "IDNUMBER", r.URL.Query().Get("type"))
		_, _ = w.Write([]byte(`{"clientDetails":[
			{"referenceNumber":"123456789","statusDescription":"Active"},
			{"referenceNumber":"987654321","statusDescription":"Cancelled"},
			{"referenceNumber":555000111,"statusDescription":"Active - arrears"},
			{"referenceNumber":"","statusDescription":"active"}
		]}`))
	})

	got, err := c.ActivePolicies(context.Background(), "8001015009087")
	require.NoError(t, err)
	assert.Equal(t, []string{"123456789", "555000111"}, got)

	_, err = c.ActivePolicies(context.Background(), "8001015009087")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(tokens))
}

func TestActivePolicies_Error(t *testing.T) {
	t.Parallel()

	c, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.ActivePolicies(context.Background(), "8001015009087")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, StatusCode(err))
	assert.True(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "correlation ava-")
}

func TestVehicles(t *testing.T) {
	t.Parallel()

	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/esb/api/v1/policies/123456789/detail", r.URL.Path)
		assert.Equal(t, "vehicle", r.URL.Query().Get("filter"))
		_, _ = w.Write([]byte(`{"policyDetailResponse":[{"vehicleDetailsArray":[
			{"year":2008,"make":"VOLKSWAGEN","model":"POLO VIVO 1.6","colour":"White",
			 "registrationNumber":"CA123456","vinNumber":"AAVZZZ6SZ8U012345","engineNumber":"BAH123",
			 "riskItemSequenceNumber":"1","coverTypeDescription":"Comprehensive",
			 "statusDescription":"Active","vehicleActiveIndicator":"Y"},
			{"year":"2015","make":"TOYOTA","model":"COROLLA","riskItemSequenceNumber":2,
			 "statusDescription":"Removed","vehicleActiveIndicator":false},
			{"year":"2019","make":"FORD","model":"RANGER","riskItemSequenceNumber":"3",
			 "statusDescription":"  "}
		]}]}`))
	})

	got, err := c.Vehicles(context.Background(), "123456789")
	require.NoError(t, err)
	require.Len(t, got, 2)

	v := got[1]
	assert.Equal(t, "2008", v.Year)
	assert.Equal(t, "VOLKSWAGEN", v.Make)
	assert.Equal(t, "AAVZZZ6SZ8U012345", v.VINNumber)
	assert.Equal(t, 1, v.SequenceNumber)
	assert.Equal(t, "Comprehensive", v.CoverType)
	assert.True(t, v.Active)

	assert.False(t, got[2].Active)
	assert.Equal(t, "Removed", got[2].Status)
	_, blank := got[3]
	assert.False(t, blank, "blank status is skipped")
}

func TestVehicles_NoDetail(t *testing.T) {
	t.Parallel()

	c, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"policyDetailResponse":[]}`))
	})

	_, err := c.Vehicles(context.Background(), "123456789")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoPolicyDetail))
	assert.False(t, resilience.IsTransient(err))
}

func TestVehicles_BadSequence(t *testing.T) {
	t.Parallel()

	c, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"policyDetailResponse":[{"vehicleDetailsArray":[
			{"riskItemSequenceNumber":"x","statusDescription":"Active"}]}]}`))
	})

	_, err := c.Vehicles(context.Background(), "123456789")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad sequence number")
}

func TestVehicles_Malformed(t *testing.T) {
	t.Parallel()

	c, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway</html>`))
	})

	_, err := c.Vehicles(context.Background(), "123456789")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal response")
}

func TestTruthy(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"Y", "yes", "TRUE", "1", " active "} {
		assert.True(t, truthy(s), s)
	}
	for _, s := range []string{"N", "", "false", "0"} {
		assert.False(t, truthy(s), s)
	}
}
