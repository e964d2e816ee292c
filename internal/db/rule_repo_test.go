package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"hookrouter/internal/types"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)

func sampleRule() *types.RoutingRule {
	return &types.RoutingRule{
		Name:    "github pushes",
		Enabled: true,
		Conditions: types.RoutingConditions{
			Source: types.SourceMatcher{"github"},
		},
		Channels: types.ChannelList{
			{Type: types.ChannelSlack, Name: "eng", Config: map[string]any{"webhookUrl": "https://hooks.slack.com/x"}},
		},
	}
}

func ruleScanFn(id, name string) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = id
		*dest[1].(*string) = name
		*dest[2].(*bool) = true
		*dest[3].(*int) = 5
		*dest[4].(*types.RoutingConditions) = types.RoutingConditions{Source: types.SourceMatcher{"github"}}
		*dest[5].(*types.ChannelList) = types.ChannelList{{Type: types.ChannelSlack, Name: "eng"}}
		*dest[6].(**types.TransformSpec) = &types.TransformSpec{Template: "{{title}}"}
		*dest[7].(*time.Time) = testNow
		*dest[8].(*time.Time) = testNow
		return nil
	}
}

func appCode(t *testing.T, err error) types.ErrorCode {
	t.Helper()
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr), "want *AppError, got %v", err)
	return appErr.Code
}

func TestRuleRepository_Create_AssignsIDAndTimestamps(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db, fixedClock{testNow})
	ctx := context.Background()

	var captured []any
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(2).([]any) }).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	r := sampleRule()
	require.NoError(t, repo.Create(ctx, r))
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, testNow, r.CreatedAt)
	assert.Equal(t, testNow, r.UpdatedAt)

	require.Len(t, captured, 9)
	assert.Equal(t, r.ID, captured[0])
	assert.Equal(t, "github pushes", captured[1])
	assert.Equal(t, r.Channels, captured[5])
	db.AssertExpectations(t)
}

func TestRuleRepository_Create_Invalid(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db, fixedClock{testNow})

	r := sampleRule()
	r.Channels = nil
	err := repo.Create(context.Background(), r)
	assert.Equal(t, types.ErrCodeValidationMissingField, appCode(t, err))
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestRuleRepository_Create_Duplicate(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db, fixedClock{testNow})

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"})

	r := sampleRule()
	r.ID = "rule-1"
	err := repo.Create(context.Background(), r)
	assert.Equal(t, types.ErrCodeConflictRuleExists, appCode(t, err))
}

func TestRuleRepository_Create_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db, fixedClock{testNow})

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := repo.Create(context.Background(), sampleRule())
	assert.Equal(t, types.ErrCodeInternalDB, appCode(t, err))
}

func TestRuleRepository_GetByID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"rule-1"}).
		Return(&mockRow{scanFn: ruleScanFn("rule-1", "github pushes")})

	r, err := repo.GetByID(context.Background(), "rule-1")
	require.NoError(t, err)
	assert.Equal(t, "rule-1", r.ID)
	assert.Equal(t, 5, r.Priority)
	require.NotNil(t, r.Transform)
	assert.Equal(t, "{{title}}", r.Transform.Template)
}

func TestRuleRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(context.Background(), "missing")
	assert.Equal(t, types.ErrCodeNotFoundRule, appCode(t, err))
}

func TestRuleRepository_GetRulesForSource(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db, nil)

	rows := &mockRows{rows: []func(dest ...any) error{
		ruleScanFn("a", "first"),
		ruleScanFn("b", "second"),
	}}
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), []any{"github"}).Return(rows, nil)

	got, err := repo.GetRulesForSource(context.Background(), "github")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.True(t, rows.closed)
}

func TestRuleRepository_GetAllRules_IterError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db, nil)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRows{errVal: errors.New("conn reset")}, nil)

	_, err := repo.GetAllRules(context.Background())
	assert.Equal(t, types.ErrCodeInternalDB, appCode(t, err))
}

func TestRuleRepository_Update(t *testing.T) {
	db := new(mockDBTX)
	later := testNow.Add(time.Hour)
	repo := NewRuleRepository(db, fixedClock{later})

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*time.Time) = testNow
			return nil
		}})

	r := sampleRule()
	r.ID = "rule-1"
	require.NoError(t, repo.Update(context.Background(), r))
	assert.Equal(t, testNow, r.CreatedAt, "created_at comes from the stored row")
	assert.Equal(t, later, r.UpdatedAt)
}

func TestRuleRepository_Update_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	r := sampleRule()
	r.ID = "ghost"
	assert.Equal(t, types.ErrCodeNotFoundRule, appCode(t, repo.Update(context.Background(), r)))

	r.ID = ""
	assert.Equal(t, types.ErrCodeNotFoundRule, appCode(t, repo.Update(context.Background(), r)))
}

func TestRuleRepository_Delete(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{"rule-1"}).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{"ghost"}).
		Return(pgconn.NewCommandTag("DELETE 0"), nil)

	require.NoError(t, repo.Delete(context.Background(), "rule-1"))
	assert.Equal(t, types.ErrCodeNotFoundRule, appCode(t, repo.Delete(context.Background(), "ghost")))
}
