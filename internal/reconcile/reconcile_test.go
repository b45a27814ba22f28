package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fitment-triage/internal/model"
	"github.com/sells-group/fitment-triage/internal/similarity"
)

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) ActivePolicies(ctx context.Context, id string) ([]string, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockRegistry) Vehicles(ctx context.Context, policy string) (map[int]model.CandidateVehicle, error) {
	args := m.Called(ctx, policy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int]model.CandidateVehicle), args.Error(1)
}

// fixedScorer returns the configured score for a candidate key.
func fixedScorer(scores map[string]float64) similarity.Scorer {
	return similarity.ScorerFunc(func(_ context.Context, _, b string) (float64, error) {
		if s, ok := scores[b]; ok {
			return s, nil
		}
		return 0, nil
	})
}

func record(t *testing.T, fields map[model.FieldName]string) *model.CompiledRecord {
	t.Helper()
	rec := model.NewCompiledRecord()
	for k, v := range fields {
		require.NoError(t, rec.Set(k, model.Found(v)))
	}
	return rec
}

func TestReconcile_NetstarVIN(t *testing.T) {
	t.Parallel()

	reg := new(mockRegistry)
	reg.On("Vehicles", mock.Anything, "123456789").Return(map[int]model.CandidateVehicle{
		1: {Year: "2015", Make: "Ford", Model: "Ranger", VINNumber: "OTHERVIN", Status: "Active"},
		2: {Year: "2008", Make: "Volkswagen", Model: "Polo Vivo 1.6", VINNumber: "ahtbb3qe 00123456", Status: "Active", CoverType: "Comprehensive"},
	}, nil)

	e := NewEngine(reg, fixedScorer(nil), Config{})
	res := e.Reconcile(context.Background(), record(t, map[model.FieldName]string{
		model.FieldPolicyNumber: "123456789",
		model.FieldVINNumber:    "AHTBB3QE00123456",
		model.FieldVehicleKey:   "2008polovivo1.6",
	}))

	require.True(t, res.Matched())
	assert.Equal(t, model.LookupPolicyNumber, res.LookupMethod)
	assert.Equal(t, model.MatchVIN, res.Method)
	assert.Equal(t, 2, res.Vehicle.SequenceNumber)
	assert.Equal(t, "Comprehensive", res.Vehicle.CoverType)
	assert.False(t, res.Ambiguous)
	require.Len(t, res.Candidates, 2)
	assert.False(t, res.Candidates[0].Matched)
	assert.True(t, res.Candidates[1].Matched)
	reg.AssertNotCalled(t, "ActivePolicies", mock.Anything, mock.Anything)
}

func TestReconcile_NoMatchBelowThreshold(t *testing.T) {
	t.Parallel()

	reg := new(mockRegistry)
	reg.On("Vehicles", mock.Anything, "123456789").Return(map[int]model.CandidateVehicle{
		1: {Year: "2019", Make: "BMW", Model: "X5", Status: "Active"},
	}, nil)

	e := NewEngine(reg, fixedScorer(map[string]float64{"2019bmwx5": 0.45}), Config{})
	res := e.Reconcile(context.Background(), record(t, map[model.FieldName]string{
		model.FieldPolicyNumber: "123456789",
		model.FieldVehicleKey:   "2008polovivo1.6",
	}))

	assert.Equal(t, model.ReconcileValidationUnsuccessful, res.Status)
	assert.False(t, res.Matched())
	assert.InDelta(t, 0.45, res.Candidates[0].Score, 1e-9)
	for k, v := range res.Fields() {
		assert.Equal(t, model.SentinelValidationUnsuccessful, v, k)
	}
}

func TestReconcile_ExactBeatsSimilarityAcrossCandidates(t *testing.T) {
	t.Parallel()

	reg := new(mockRegistry)
	reg.On("Vehicles", mock.Anything, "123456789").Return(map[int]model.CandidateVehicle{
		1: {Year: "2008", Make: "Volkswagen", Model: "Polo Vivo", Status: "Active"},
		2: {Year: "2012", Make: "Toyota", Model: "Hilux", EngineNumber: "2KD 998877", Status: "Active"},
	}, nil)

	e := NewEngine(reg, fixedScorer(map[string]float64{"2008volkswagenpolovivo": 0.97}), Config{})
	res := e.Reconcile(context.Background(), record(t, map[model.FieldName]string{
		model.FieldPolicyNumber: "123456789",
		model.FieldEngineNumber: "2kd998877",
		model.FieldVehicleKey:   "2008polovivo",
	}))

	require.True(t, res.Matched())
	assert.Equal(t, model.MatchEngineNumber, res.Method)
	assert.Equal(t, 2, res.Vehicle.SequenceNumber)
	assert.False(t, res.Ambiguous)
	assert.Equal(t, model.MatchTextSimilarity, res.Candidates[0].Method)
}

func TestReconcile_MethodPriorityWithinCandidate(t *testing.T) {
	t.Parallel()

	reg := new(mockRegistry)
	reg.On("Vehicles", mock.Anything, "123456789").Return(map[int]model.CandidateVehicle{
		1: {VINNumber: "VIN1", EngineNumber: "ENG1", RegistrationNumber: "CA 1", Status: "Active"},
	}, nil)

	e := NewEngine(reg, nil, Config{})
	res := e.Reconcile(context.Background(), record(t, map[model.FieldName]string{
		model.FieldPolicyNumber:       "123456789",
		model.FieldEngineNumber:       "ENG1",
		model.FieldRegistrationNumber: " ca 1 ",
	}))
	assert.Equal(t, model.MatchEngineNumber, res.Method)
}

func TestReconcile_Precedence(t *testing.T) {
	t.Parallel()

	vehicles := map[int]model.CandidateVehicle{
		3: {RegistrationNumber: "CA123", Model: "third", Status: "Active"},
		1: {RegistrationNumber: "ca123", Model: "first", Status: "Active"},
		2: {RegistrationNumber: "XX999", Model: "second", Status: "Active"},
	}
	rec := record(t, map[model.FieldName]string{
		model.FieldPolicyNumber:       "123456789",
		model.FieldRegistrationNumber: "CA123",
	})

	tests := []struct {
		precedence Precedence
		wantSeq    int
	}{
		{"", 1},
		{PrecedenceFirst, 1},
		{PrecedenceLast, 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.precedence), func(t *testing.T) {
			t.Parallel()
			reg := new(mockRegistry)
			reg.On("Vehicles", mock.Anything, "123456789").Return(vehicles, nil)

			res := NewEngine(reg, nil, Config{Precedence: tt.precedence}).Reconcile(context.Background(), rec)
			require.True(t, res.Matched())
			assert.Equal(t, tt.wantSeq, res.Vehicle.SequenceNumber)
			assert.True(t, res.Ambiguous)
		})
	}
}

func TestReconcile_LastPrecedenceKeepsStrongerMethod(t *testing.T) {
	t.Parallel()

	reg := new(mockRegistry)
	reg.On("Vehicles", mock.Anything, "123456789").Return(map[int]model.CandidateVehicle{
		1: {VINNumber: "VIN1", Status: "Active"},
		2: {Year: "2008", Make: "Volkswagen", Model: "Polo Vivo", Status: "Active"},
	}, nil)

	e := NewEngine(reg, fixedScorer(map[string]float64{"2008volkswagenpolovivo": 0.97}), Config{Precedence: PrecedenceLast})
	res := e.Reconcile(context.Background(), record(t, map[model.FieldName]string{
		model.FieldPolicyNumber: "123456789",
		model.FieldVINNumber:    "vin1",
		model.FieldVehicleKey:   "2008polovivo",
	}))

	require.True(t, res.Matched())
	assert.Equal(t, model.MatchVIN, res.Method)
	assert.Equal(t, 1, res.Vehicle.SequenceNumber)
	assert.False(t, res.Ambiguous)
	assert.Equal(t, model.MatchTextSimilarity, res.Candidates[1].Method)
}

func TestReconcile_IDNumberPath(t *testing.T) {
	t.Parallel()

	reg := new(mockRegistry)
	reg.On("ActivePolicies", mock.Anything, "8001015009087").Return([]string{"111111111", "222222222", "333333333"}, nil)
	reg.On("Vehicles", mock.Anything, "111111111").Return(nil, errors.New("504 gateway timeout"))
	reg.On("Vehicles", mock.Anything, "222222222").Return(map[int]model.CandidateVehicle{
		1: {VINNumber: "NOPE", Status: "Active"},
	}, nil)
	reg.On("Vehicles", mock.Anything, "333333333").Return(map[int]model.CandidateVehicle{
		4: {VINNumber: "AHT123", Status: "Active"},
	}, nil)

	res := NewEngine(reg, nil, Config{}).Reconcile(context.Background(), record(t, map[model.FieldName]string{
		model.FieldIDNumber:  "8001015009087",
		model.FieldVINNumber: "aht123",
	}))

	require.True(t, res.Matched())
	assert.Equal(t, model.LookupIDNumber, res.LookupMethod)
	assert.Equal(t, "333333333", res.PolicyNumber)
	assert.Equal(t, 4, res.Vehicle.SequenceNumber)
	assert.Equal(t, "333333333", res.Fields()["policy_number"])
	assert.Len(t, res.Candidates, 2)
}

func TestReconcile_IDNumberAllPoliciesFail(t *testing.T) {
	t.Parallel()

	reg := new(mockRegistry)
	reg.On("ActivePolicies", mock.Anything, "8001015009087").Return([]string{"111111111", "222222222"}, nil)
	reg.On("Vehicles", mock.Anything, mock.Anything).Return(nil, errors.New("503"))

	res := NewEngine(reg, nil, Config{}).Reconcile(context.Background(), record(t, map[model.FieldName]string{
		model.FieldIDNumber: "8001015009087",
	}))
	assert.Equal(t, model.ReconcileError, res.Status)
	assert.Contains(t, res.Error, "every policy lookup failed")
}

func TestReconcile_IDNumberNoActivePolicies(t *testing.T) {
	t.Parallel()

	reg := new(mockRegistry)
	reg.On("ActivePolicies", mock.Anything, "8001015009087").Return([]string{}, nil)

	res := NewEngine(reg, nil, Config{}).Reconcile(context.Background(), record(t, map[model.FieldName]string{
		model.FieldIDNumber: "8001015009087",
	}))
	assert.Equal(t, model.ReconcileValidationUnsuccessful, res.Status)
	reg.AssertNotCalled(t, "Vehicles", mock.Anything, mock.Anything)
}

func TestReconcile_RegistryErrors(t *testing.T) {
	t.Parallel()

	reg := new(mockRegistry)
	reg.On("Vehicles", mock.Anything, "123456789").Return(nil, errors.New("connection refused"))
	res := NewEngine(reg, nil, Config{}).Reconcile(context.Background(), record(t, map[model.FieldName]string{
		model.FieldPolicyNumber: "123456789",
	}))
	assert.Equal(t, model.ReconcileError, res.Status)
	assert.Equal(t, "123456789", res.PolicyNumber)
	assert.Contains(t, res.Error, "connection refused")

	reg = new(mockRegistry)
	reg.On("ActivePolicies", mock.Anything, mock.Anything).Return(nil, errors.New("401"))
	res = NewEngine(reg, nil, Config{}).Reconcile(context.Background(), record(t, map[model.FieldName]string{
		model.FieldIDNumber: "8001015009087",
	}))
	assert.Equal(t, model.ReconcileError, res.Status)
}

func TestReconcile_NoLookup(t *testing.T) {
	t.Parallel()

	reg := new(mockRegistry)
	rec := model.NewCompiledRecord()
	require.NoError(t, rec.Set(model.FieldPolicyNumber, model.Failed("timeout")))

	res := NewEngine(reg, nil, Config{}).Reconcile(context.Background(), rec)
	assert.Equal(t, model.ReconcileNoLookup, res.Status)
	assert.Equal(t, model.LookupNone, res.LookupMethod)
	reg.AssertNotCalled(t, "Vehicles", mock.Anything, mock.Anything)
}

func TestReconcile_SimilarityErrorDegrades(t *testing.T) {
	t.Parallel()

	reg := new(mockRegistry)
	reg.On("Vehicles", mock.Anything, "123456789").Return(map[int]model.CandidateVehicle{
		1: {Year: "2008", Make: "VW", Model: "Polo", Status: "Active"},
		2: {Year: "2008", Make: "VW", Model: "Polo Vivo", Status: "Active"},
	}, nil)

	scorer := similarity.ScorerFunc(func(_ context.Context, _, b string) (float64, error) {
		if b == "2008vwpolo" {
			return 0, errors.New("embedder down")
		}
		return 0.91, nil
	})
	res := NewEngine(reg, scorer, Config{}).Reconcile(context.Background(), record(t, map[model.FieldName]string{
		model.FieldPolicyNumber: "123456789",
		model.FieldVehicleKey:   "2008vwpolovivo",
	}))
	require.True(t, res.Matched())
	assert.Equal(t, model.MatchTextSimilarity, res.Method)
	assert.Equal(t, 2, res.Vehicle.SequenceNumber)
	assert.InDelta(t, 0.91, res.Score, 1e-9)
}

func TestCandidateKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2020toyotacorolla", CandidateKey(model.CandidateVehicle{Year: "2020", Make: "Toyota", Model: "Toyota Corolla"}))
	assert.Equal(t, "2020toyotacorolla", CandidateKey(model.CandidateVehicle{Year: "2020", Make: "Toyota", Model: "Corolla"}))
	assert.Equal(t, "2008volkswagenpolovivo1.6", CandidateKey(model.CandidateVehicle{Year: "2008", Make: "Volkswagen", Model: "Polo Vivo 1.6"}))
	assert.Equal(t, "", CandidateKey(model.CandidateVehicle{}))
}
