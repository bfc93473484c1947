package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/patternctl/pkg/bus"
)

type fakeFleet struct{}

func (fakeFleet) Health() bus.FleetHealth { return bus.FleetHealth{Enabled: true} }

type fakeBreakers struct{}

func (fakeBreakers) BreakerState() map[string]string {
	return map[string]string{"finding_observed.v1": "closed"}
}

func TestHealthHandler_ReturnsOKWhenDBReachable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	mock.ExpectPing()

	router := NewServer("test", Deps{DB: sqlxDB})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthHandler_ReturnsUnavailableWhenDBUnreachable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	mock.ExpectPing().WillReturnError(assert.AnError)

	router := NewServer("test", Deps{DB: sqlxDB})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthHandler_ReportsFleetAndBreakerState(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	mock.ExpectPing()

	router := NewServer("test", Deps{DB: sqlxDB, Fleet: fakeFleet{}, Registry: fakeBreakers{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "finding_observed.v1")
}
